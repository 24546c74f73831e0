package orchestrator

import "time"

type Config struct {
	ClassifyTimeout time.Duration `envconfig:"CLASSIFY_TIMEOUT" split_words:"true" default:"10s"`
	RespondTimeout  time.Duration `envconfig:"RESPOND_TIMEOUT" split_words:"true" default:"30s"`
	PersistTimeout  time.Duration `envconfig:"PERSIST_TIMEOUT" split_words:"true" default:"5s"`
	HealthTimeout   time.Duration `envconfig:"HEALTH_TIMEOUT" split_words:"true" default:"5s"`

	// AsyncPersist moves turn persistence off the request path onto
	// per-session ordered workers.
	AsyncPersist   bool `envconfig:"ASYNC_PERSIST" split_words:"true" default:"true"`
	PersistWorkers int  `envconfig:"PERSIST_WORKERS" split_words:"true" default:"4"`
	PersistQueue   int  `envconfig:"PERSIST_QUEUE" split_words:"true" default:"64"`

	StreamBuffer  int `envconfig:"STREAM_BUFFER" split_words:"true" default:"16"`
	HistoryWindow int `envconfig:"HISTORY_WINDOW" split_words:"true" default:"10"`
}

func (c Config) withDefaults() Config {
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 10 * time.Second
	}
	if c.RespondTimeout <= 0 {
		c.RespondTimeout = 30 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.PersistWorkers <= 0 {
		c.PersistWorkers = 4
	}
	if c.PersistQueue <= 0 {
		c.PersistQueue = 64
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 16
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	return c
}

// Package health runs liveness checks concurrently and folds them into one
// report.
package health

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	DefaultCheckTimeout = 5 * time.Second
)

// Check probes one component. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type ServiceHealth struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Report struct {
	Status    string                   `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp time.Time                `json:"timestamp"`
}

func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

type Aggregator struct {
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Aggregator)

func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		timeout: DefaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Run executes every check in parallel, each under its own timeout. The
// report is unhealthy when any check fails.
func (a *Aggregator) Run(ctx context.Context, checks ...Check) Report {
	results := make([]ServiceHealth, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = a.probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:    StatusHealthy,
		Services:  make(map[string]ServiceHealth, len(checks)),
		Timestamp: a.now().UTC(),
	}
	for i, c := range checks {
		report.Services[c.Name] = results[i]
		if results[i].Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
	}
	if !report.Healthy() {
		log.Warn().Strs("failing", failing(report)).Msg("health check degraded")
	}
	return report
}

func (a *Aggregator) probe(ctx context.Context, c Check) ServiceHealth {
	if c.Probe == nil {
		return ServiceHealth{Status: StatusHealthy}
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := a.now()
	err := c.Probe(ctx)
	out := ServiceHealth{
		Status:    StatusHealthy,
		LatencyMS: a.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		out.Status = StatusUnhealthy
		out.Error = err.Error()
	}
	return out
}

func failing(r Report) []string {
	var out []string
	for name, s := range r.Services {
		if s.Status != StatusHealthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

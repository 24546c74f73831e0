package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	openrouterx "github.com/tanpawarit/chative-router/pkg/openrouter"
)

// RoleClassifier selects the intent classifier's responder settings.
const RoleClassifier = "classifier"

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.7"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	ClassifierModel       string  `envconfig:"CLASSIFIER_MODEL" split_words:"true"`
	ClassifierTemperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" split_words:"true" default:"0"`

	// AgentModels and AgentTemperatures override the defaults per handler,
	// e.g. LLM_AGENT_MODELS=analytics:openai/gpt-4o,campaign:openai/gpt-4o-mini.
	AgentModels       map[string]string  `envconfig:"AGENT_MODELS" split_words:"true"`
	AgentTemperatures map[string]float32 `envconfig:"AGENT_TEMPERATURES" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	for name, temp := range c.AgentTemperatures {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("%w: temperature for %s must be within [0,2]", contractx.ErrValidation, name)
		}
	}
	return nil
}

// OpenRouterFor resolves the responder settings for role: RoleClassifier,
// contract.AgentMain or a specialist name.
func (c Config) OpenRouterFor(role string) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	if role == RoleClassifier {
		if v := strings.TrimSpace(c.ClassifierModel); v != "" {
			modelName = v
		}
		if c.ClassifierTemperature >= 0 {
			temp = c.ClassifierTemperature
		}
	} else {
		if v := strings.TrimSpace(c.AgentModels[role]); v != "" {
			modelName = v
		}
		if v, ok := c.AgentTemperatures[role]; ok {
			temp = v
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

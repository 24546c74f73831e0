package prompt

import (
	"embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

//go:embed template/*.txt
var templates embed.FS

// PromptSet holds the classifier prompt and one system prompt per handler,
// keyed by agent name ("main" and each specialist).
type PromptSet struct {
	Classifier string
	Agents     map[string]string
}

// LoadPromptSet reads every embedded template. A missing or empty template is
// reported with contract.ErrPromptMissing.
func LoadPromptSet() (PromptSet, error) {
	classifier, err := read("classifier")
	if err != nil {
		return PromptSet{}, err
	}

	names := []string{
		contractx.AgentMain,
		contractx.SpecialistProduct,
		contractx.SpecialistBilling,
		contractx.SpecialistPlatform,
		contractx.SpecialistAnalytics,
		contractx.SpecialistCampaign,
	}
	agents := make(map[string]string, len(names))
	for _, name := range names {
		text, err := read(name)
		if err != nil {
			return PromptSet{}, err
		}
		agents[name] = text
	}

	return PromptSet{Classifier: classifier, Agents: agents}, nil
}

// For returns the system prompt of the named handler.
func (p PromptSet) For(name string) (string, error) {
	text, ok := p.Agents[name]
	if !ok || text == "" {
		return "", fmt.Errorf("%w: no prompt for %s", contractx.ErrPromptMissing, name)
	}
	return text, nil
}

func read(name string) (string, error) {
	raw, err := templates.ReadFile("template/" + name + ".txt")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", contractx.ErrPromptMissing, name, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%w: %s is empty", contractx.ErrPromptMissing, name)
	}
	return text, nil
}

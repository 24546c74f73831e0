package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

// classifierHistoryTurns bounds how much history goes into the routing prompt.
const classifierHistoryTurns = 5

var _ contractx.Classifier = (*classifierImpl)(nil)

type classifierImpl struct {
	runner compose.Runnable[map[string]any, classifierLLMOutput]
}

type classifierLLMOutput struct {
	RequiresSpecialist bool    `json:"requires_specialist"`
	SpecialistName     string  `json:"specialist_name,omitempty"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
}

func NewClassifier(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (contractx.Classifier, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: classifier", contractx.ErrPromptMissing)
	}
	runner, err := compileClassifierGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile classifier graph: %v", contractx.ErrModelInvoke, err)
	}
	return &classifierImpl{runner: runner}, nil
}

// Classify asks the model for a routing decision. Errors are returned as-is;
// the orchestrator owns the fallback to the generic handler.
func (c *classifierImpl) Classify(ctx context.Context, req contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
	if strings.TrimSpace(req.Message) == "" {
		return contractx.RoutingDecision{}, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	payload := map[string]any{
		"message":     req.Message,
		"specialists": req.Specialists,
		"history":     summarizeHistory(req.History, classifierHistoryTurns),
		"context":     req.Context,
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return contractx.RoutingDecision{}, fmt.Errorf("%w: marshal classifier payload: %v", contractx.ErrValidation, err)
	}

	out, err := c.runner.Invoke(ctx, map[string]any{
		"input": string(inputBytes),
	})
	if err != nil {
		return contractx.RoutingDecision{}, fmt.Errorf("%w: classifier invoke: %v", contractx.ErrModelInvoke, err)
	}

	decision := contractx.RoutingDecision{
		RequiresSpecialist: out.RequiresSpecialist,
		SpecialistName:     out.SpecialistName,
		Confidence:         out.Confidence,
		Reasoning:          strings.TrimSpace(out.Reasoning),
	}
	if err := validateDecision(decision); err != nil {
		return contractx.RoutingDecision{}, err
	}
	return decision.Normalized(), nil
}

func validateDecision(d contractx.RoutingDecision) error {
	if d.RequiresSpecialist && strings.TrimSpace(d.SpecialistName) == "" {
		return fmt.Errorf("%w: specialist_name is required when requires_specialist is true", contractx.ErrSchemaViolation)
	}
	return nil
}

func summarizeHistory(turns []statex.Turn, limit int) []map[string]string {
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]map[string]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, map[string]string{
			"user":  t.UserMessage,
			"agent": t.AgentUsed,
			"reply": t.AgentResponse,
		})
	}
	return out
}

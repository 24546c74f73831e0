package tool

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

// Campaign tools are simulated: no ad platform is called.

const expectedCTRUplift = 15.0

type CampaignCreateOutput struct {
	CampaignID string  `json:"campaign_id"`
	Name       string  `json:"name"`
	Objective  string  `json:"objective,omitempty"`
	Budget     float64 `json:"budget,omitempty"`
	Channel    string  `json:"channel,omitempty"`
	Status     string  `json:"status"`
}

type CampaignOptimizeOutput struct {
	CampaignID        string  `json:"campaign_id"`
	Goal              string  `json:"goal"`
	ExpectedUpliftPct float64 `json:"expected_uplift_pct"`
	Summary           string  `json:"summary"`
}

func executeCampaignCreate(tool string, args map[string]any, now time.Time) (contractx.ToolResult, error) {
	name, err := requiredString(args, "name")
	if err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}
	budget, err := optionalNumber(args, "budget")
	if err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}
	if budget < 0 {
		return contractx.ToolResult{Tool: tool, Error: "budget must not be negative"}, nil
	}

	return contractx.ToolResult{
		Tool: tool,
		Result: CampaignCreateOutput{
			CampaignID: "camp_" + now.Format("20060102_150405"),
			Name:       name,
			Objective:  optionalString(args, "objective"),
			Budget:     budget,
			Channel:    optionalString(args, "channel"),
			Status:     "created",
		},
	}, nil
}

func executeCampaignOptimize(tool string, args map[string]any) (contractx.ToolResult, error) {
	id, err := requiredString(args, "campaign_id")
	if err != nil {
		return contractx.ToolResult{Tool: tool, Error: err.Error()}, nil
	}
	goal := strings.ToLower(optionalString(args, "goal"))
	if goal == "" {
		goal = "ctr"
	}

	return contractx.ToolResult{
		Tool: tool,
		Result: CampaignOptimizeOutput{
			CampaignID:        id,
			Goal:              goal,
			ExpectedUpliftPct: expectedCTRUplift,
			Summary:           fmt.Sprintf("campaign %s optimized, expected %s improvement +%.0f%%", id, strings.ToUpper(goal), expectedCTRUplift),
		},
	}, nil
}

func requiredString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s is empty", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func optionalNumber(args map[string]any, key string) (float64, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, nil
	}
	n, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return n, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

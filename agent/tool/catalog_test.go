package tool

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

func TestBuildForSpecialistCampaign(t *testing.T) {
	t.Parallel()

	infos, executor := BuildForSpecialist(contractx.SpecialistCampaign)
	if len(infos) != 2 {
		t.Fatalf("expected 2 tool infos, got %d", len(infos))
	}
	names := Names(infos)
	if names[0] != ToolCampaignCreate || names[1] != ToolCampaignOptimize {
		t.Fatalf("unexpected tools: %v", names)
	}
	if executor == nil {
		t.Fatal("executor must not be nil")
	}
}

func TestBuildForSpecialistWithoutTools(t *testing.T) {
	t.Parallel()

	for _, name := range []string{contractx.SpecialistProduct, contractx.SpecialistBilling, contractx.AgentMain} {
		infos, _ := BuildForSpecialist(name)
		if len(infos) != 0 {
			t.Fatalf("%s: expected no tools, got %d", name, len(infos))
		}
	}
}

func TestDefaultExecutorUnavailableMessage(t *testing.T) {
	t.Parallel()

	executor := DefaultExecutor(contractx.SpecialistProduct)
	out, err := executor(context.Background(), ToolCampaignCreate, map[string]any{"name": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Tool != ToolCampaignCreate {
		t.Fatalf("unexpected tool: %s", out.Tool)
	}
	if out.Error == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestNewExecutorRejectsToolOfAnotherSpecialist(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistAnalytics)
	out, err := executor(context.Background(), ToolCampaignCreate, map[string]any{"name": "spring"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error == "" {
		t.Fatal("analytics must not run campaign tools")
	}
}

func TestNewExecutorCampaignCreate(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 5, 4, 13, 2, 9, 0, time.UTC)
	executor := NewExecutor(contractx.SpecialistCampaign, WithClock(func() time.Time { return fixed }))
	out, err := executor(context.Background(), ToolCampaignCreate, map[string]any{
		"name":   "Spring Sale",
		"budget": float64(1200),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected tool error: %s", out.Error)
	}
	result, ok := out.Result.(CampaignCreateOutput)
	if !ok {
		t.Fatalf("unexpected result type: %T", out.Result)
	}
	if result.CampaignID != "camp_20260504_130209" {
		t.Fatalf("unexpected campaign id: %s", result.CampaignID)
	}
	if result.Budget != 1200 {
		t.Fatalf("unexpected budget: %v", result.Budget)
	}
}

func TestNewExecutorCampaignCreateMissingName(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistCampaign)
	out, err := executor(context.Background(), ToolCampaignCreate, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error == "" {
		t.Fatal("expected validation error")
	}
}

func TestNewExecutorCampaignOptimize(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistCampaign)
	out, err := executor(context.Background(), ToolCampaignOptimize, map[string]any{
		"campaign_id": "camp_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := out.Result.(CampaignOptimizeOutput)
	if !ok {
		t.Fatalf("unexpected result type: %T", out.Result)
	}
	if result.Goal != "ctr" || result.ExpectedUpliftPct != 15 {
		t.Fatalf("unexpected optimize result: %+v", result)
	}
}

func TestNewExecutorMetricsCompute(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistAnalytics)
	out, err := executor(context.Background(), ToolMetricsCompute, map[string]any{
		"expression": "clicks / impressions * 100",
		"variables": map[string]any{
			"clicks":      float64(42),
			"impressions": float64(1200),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected tool error: %s", out.Error)
	}
	result, ok := out.Result.(MetricsComputeOutput)
	if !ok {
		t.Fatalf("unexpected result type: %T", out.Result)
	}
	if math.Abs(result.Result-3.5) > 1e-9 {
		t.Fatalf("unexpected result: %v", result.Result)
	}
}

func TestNewExecutorMetricsComputePlainArithmetic(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistAnalytics)
	out, err := executor(context.Background(), ToolMetricsCompute, map[string]any{
		"expression": "2 + 3 * (4 - 1) ^ 2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := out.Result.(MetricsComputeOutput)
	if !ok {
		t.Fatalf("unexpected result type: %T (error %q)", out.Result, out.Error)
	}
	if result.Result != 29 {
		t.Fatalf("unexpected result: %v", result.Result)
	}
}

func TestNewExecutorMetricsComputeErrors(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistAnalytics)
	cases := []map[string]any{
		{"expression": "spend / conversions", "variables": map[string]any{"spend": float64(10)}},
		{"expression": "1 / 0"},
		{"expression": "2 + (3"},
		{"expression": "2 + $"},
		{"expression": "a", "variables": map[string]any{"a": "ten"}},
	}
	for _, args := range cases {
		out, err := executor(context.Background(), ToolMetricsCompute, args)
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", args, err)
		}
		if out.Error == "" {
			t.Fatalf("expected tool error for %v", args)
		}
	}
}

func TestNewExecutorMetricsComputeRejectsNonFiniteResult(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(contractx.SpecialistAnalytics)
	for _, expr := range []string{"10^400", "(0-8)^0.5", "x * 10^400", "0 * 10^400"} {
		args := map[string]any{"expression": expr, "variables": map[string]any{"x": float64(-1)}}
		out, err := executor(context.Background(), ToolMetricsCompute, args)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", expr, err)
		}
		if out.Error != "result is not a finite number" {
			t.Fatalf("%s: tool error = %q, result = %v", expr, out.Error, out.Result)
		}
		if _, err := json.Marshal(out); err != nil {
			t.Fatalf("%s: result does not encode: %v", expr, err)
		}
	}
}

package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

type fakeSpecialist struct {
	name string
	resp contractx.SpecialistResponse
	err  error
	wait time.Duration
	got  contractx.SpecialistRequest
}

func (f *fakeSpecialist) Name() string { return f.name }

func (f *fakeSpecialist) Process(ctx context.Context, req contractx.SpecialistRequest) (contractx.SpecialistResponse, error) {
	f.got = req
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return contractx.SpecialistResponse{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, ctx.Err())
		}
	}
	return f.resp, f.err
}

func (f *fakeSpecialist) ProcessStream(ctx context.Context, req contractx.SpecialistRequest, emit contractx.Emit) (contractx.SpecialistResponse, error) {
	return f.Process(ctx, req)
}

func (f *fakeSpecialist) HealthCheck(context.Context) error { return nil }

func (f *fakeSpecialist) Status(context.Context) contractx.SpecialistStatus {
	return contractx.SpecialistStatus{Name: f.name, State: "active", Description: f.name + " topics"}
}

type fakeRegistry map[string]contractx.Specialist

func (r fakeRegistry) Lookup(name string) (contractx.Specialist, bool) {
	s, ok := r[name]
	return s, ok
}

func (r fakeRegistry) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	return out
}

func (r fakeRegistry) Specialists() []contractx.Specialist {
	out := make([]contractx.Specialist, 0, len(r))
	for _, s := range r {
		out = append(out, s)
	}
	return out
}

type classifierFunc func(context.Context, contractx.ClassifyRequest) (contractx.RoutingDecision, error)

func (f classifierFunc) Classify(ctx context.Context, req contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
	return f(ctx, req)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 5, 4, 13, 0, 0, 0, time.UTC)
}

func newTestState(t *testing.T, req contractx.Request, reg contractx.Registry) *GraphState {
	t.Helper()
	in, err := ValidateRequest(req, reg, sequentialIDs(), fixedNow)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	in.Session = statex.NewSessionState(in.SessionID, in.UserID, in.Hints, in.Now)
	return in
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	reg := fakeRegistry{"analytics": &fakeSpecialist{name: "analytics"}}

	in, err := ValidateRequest(contractx.Request{Message: "  Hello  "}, reg, sequentialIDs(), fixedNow)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if in.SessionID != "id-1" || in.MessageID != "id-2" {
		t.Fatalf("unexpected ids: session=%q message=%q", in.SessionID, in.MessageID)
	}
	if in.Text != "Hello" || in.Phase != PhaseStart {
		t.Fatalf("unexpected state: %#v", in)
	}

	in, err = ValidateRequest(contractx.Request{Message: "hi", SessionID: "s-1", Specialist: "Analytics"}, reg, sequentialIDs(), fixedNow)
	if err != nil {
		t.Fatalf("ValidateRequest(forced) error = %v", err)
	}
	if in.SessionID != "s-1" || in.Forced != "analytics" {
		t.Fatalf("unexpected forced state: %#v", in)
	}

	_, err = ValidateRequest(contractx.Request{Message: "   "}, reg, sequentialIDs(), fixedNow)
	if !errors.Is(err, contractx.ErrInvalidMessage) || !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("empty message error = %v", err)
	}

	_, err = ValidateRequest(contractx.Request{Message: "hi", Specialist: "weather"}, reg, sequentialIDs(), fixedNow)
	if !errors.Is(err, contractx.ErrUnknownSpecialist) {
		t.Fatalf("unknown specialist error = %v", err)
	}
}

func TestClassifyIntentRoutesToRegisteredSpecialist(t *testing.T) {
	t.Parallel()

	reg := fakeRegistry{"analytics": &fakeSpecialist{name: "analytics"}}
	in := newTestState(t, contractx.Request{Message: "show me last week's metrics"}, reg)

	var seen contractx.ClassifyRequest
	classifier := classifierFunc(func(ctx context.Context, req contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
		seen = req
		return contractx.RoutingDecision{RequiresSpecialist: true, SpecialistName: "analytics", Confidence: 0.9}, nil
	})

	out, err := ClassifyIntent(context.Background(), in, classifier, reg, SpecialistCatalog(context.Background(), reg), time.Second)
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if out.Route != "analytics" || out.Phase != PhaseRouted {
		t.Fatalf("route = %q phase = %q", out.Route, out.Phase)
	}
	if seen.Specialists["analytics"] != "analytics topics" {
		t.Fatalf("classifier did not receive the catalog: %#v", seen.Specialists)
	}
	if _, ok := out.Metadata["intent_analysis"]; !ok {
		t.Fatal("intent_analysis missing from metadata")
	}
}

func TestClassifyIntentUnknownNameFallsBack(t *testing.T) {
	t.Parallel()

	reg := fakeRegistry{"analytics": &fakeSpecialist{name: "analytics"}}
	in := newTestState(t, contractx.Request{Message: "what's the weather"}, reg)
	classifier := classifierFunc(func(context.Context, contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
		return contractx.RoutingDecision{RequiresSpecialist: true, SpecialistName: "weather"}, nil
	})

	out, err := ClassifyIntent(context.Background(), in, classifier, reg, nil, time.Second)
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if out.Route != contractx.AgentMain {
		t.Fatalf("route = %q, want main", out.Route)
	}
	if out.Metadata["routing_fallback"] != "weather" {
		t.Fatalf("routing_fallback = %v", out.Metadata["routing_fallback"])
	}
}

func TestClassifyIntentFailureIsObservable(t *testing.T) {
	t.Parallel()

	reg := fakeRegistry{}
	in := newTestState(t, contractx.Request{Message: "hello"}, reg)
	classifier := classifierFunc(func(ctx context.Context, _ contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
		<-ctx.Done()
		return contractx.RoutingDecision{}, ctx.Err()
	})

	out, err := ClassifyIntent(context.Background(), in, classifier, reg, nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if out.Route != contractx.AgentMain || out.Decision.RequiresSpecialist {
		t.Fatalf("expected fallback decision, got %#v", out.Decision)
	}
	msg, _ := out.Metadata["classification_error"].(string)
	if !strings.Contains(msg, contractx.ErrTimeout.Error()) {
		t.Fatalf("classification_error = %q", msg)
	}
}

func TestClassifyIntentForcedSkipsClassifier(t *testing.T) {
	t.Parallel()

	reg := fakeRegistry{"billing": &fakeSpecialist{name: "billing"}}
	in := newTestState(t, contractx.Request{Message: "hi", Specialist: "billing"}, reg)
	classifier := classifierFunc(func(context.Context, contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
		t.Error("classifier must not run for a forced specialist")
		return contractx.RoutingDecision{}, nil
	})

	out, err := ClassifyIntent(context.Background(), in, classifier, reg, nil, time.Second)
	if err != nil {
		t.Fatalf("ClassifyIntent() error = %v", err)
	}
	if out.Route != "billing" || out.Decision.Confidence != 1 {
		t.Fatalf("unexpected forced routing: %#v", out.Decision)
	}
}

func TestDispatchSpecialistTimeoutBecomesDiagnostic(t *testing.T) {
	t.Parallel()

	slow := &fakeSpecialist{name: contractx.AgentMain, wait: time.Second}
	in := newTestState(t, contractx.Request{Message: "hello", Context: map[string]any{"platform": "web"}}, fakeRegistry{})
	in.Route = contractx.AgentMain

	out, err := DispatchSpecialist(context.Background(), in, slow, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("DispatchSpecialist() error = %v", err)
	}
	if out.Content != DiagnosticContent {
		t.Fatalf("content = %q", out.Content)
	}
	if out.Metadata["error_type"] != errorTypeTimeout || out.Metadata["error"] == nil {
		t.Fatalf("unexpected error metadata: %#v", out.Metadata)
	}
	if slow.got.Context["platform"] != "web" {
		t.Fatalf("session context not forwarded: %#v", slow.got.Context)
	}
}

func TestDispatchSpecialistKeepsOrchestratorMetadata(t *testing.T) {
	t.Parallel()

	spec := &fakeSpecialist{
		name: "campaign",
		resp: contractx.SpecialistResponse{
			Content:   "done",
			ToolsUsed: []string{"campaign.create"},
			Metadata:  map[string]any{"model": "m", "intent_analysis": "overwritten?"},
		},
	}
	in := newTestState(t, contractx.Request{Message: "create"}, fakeRegistry{})
	in.Metadata["intent_analysis"] = map[string]any{"requires_specialist": true}

	out, err := DispatchSpecialist(context.Background(), in, spec, time.Second)
	if err != nil {
		t.Fatalf("DispatchSpecialist() error = %v", err)
	}
	if out.Metadata["model"] != "m" {
		t.Fatalf("specialist metadata dropped: %#v", out.Metadata)
	}
	if _, ok := out.Metadata["intent_analysis"].(map[string]any); !ok {
		t.Fatalf("routing metadata overwritten: %#v", out.Metadata["intent_analysis"])
	}
}

func TestFinalizeTurn(t *testing.T) {
	t.Parallel()

	in := newTestState(t, contractx.Request{Message: "hello", UserID: "u-1"}, fakeRegistry{})
	in.AgentUsed = contractx.AgentMain
	in.Content = "Hi there"

	out, err := FinalizeTurn(in, func() string { return "turn-1" }, func() time.Time { return fixedNow().Add(time.Second) })
	if err != nil {
		t.Fatalf("FinalizeTurn() error = %v", err)
	}
	if out.Response.ToolsUsed == nil || len(out.Response.ToolsUsed) != 0 {
		t.Fatalf("tools_used = %#v, want empty", out.Response.ToolsUsed)
	}
	if out.Turn.TurnID != "turn-1" || out.Turn.AgentResponse != "Hi there" || out.Turn.UserID != "u-1" {
		t.Fatalf("unexpected turn: %#v", out.Turn)
	}
	if err := out.Turn.Validate(); err != nil {
		t.Fatalf("turn is invalid: %v", err)
	}
	if out.Session.TurnCount != 1 || out.Session.CurrentTopic != contractx.AgentMain {
		t.Fatalf("session not advanced: %#v", out.Session)
	}
	if in.Session.TurnCount != 0 {
		t.Fatal("finalize must not mutate the loaded session")
	}
	if _, ok := out.Response.Metadata["processed_at"]; !ok || in.Phase != PhaseDone {
		t.Fatalf("completion not stamped: %#v", out.Response.Metadata)
	}
}

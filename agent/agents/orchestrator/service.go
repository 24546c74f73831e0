package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	healthx "github.com/tanpawarit/chative-router/agent/health"
	nodex "github.com/tanpawarit/chative-router/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/chative-router/agent/state"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const (
	stateActive   = "active"
	stateInactive = "inactive"
)

// Orchestrator classifies each message, dispatches it to a specialist or
// the generic handler and persists the resulting turn. It is safe for
// concurrent use; nothing is shared between requests except the injected
// collaborators.
type Orchestrator struct {
	memory     contractx.SessionMemory
	registry   contractx.Registry
	main       contractx.Specialist
	classifier contractx.Classifier
	responder  contractx.HealthChecker
	catalog    map[string]string

	cfg       Config
	runner    compose.Runnable[*nodex.GraphState, nodex.GraphOutput]
	persister *persister
	health    *healthx.Aggregator

	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	closed  bool
	streams sync.WaitGroup
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithResponderProbe sets the liveness check reported as "responder". When
// unset the generic handler's own check is used.
func WithResponderProbe(h contractx.HealthChecker) Option {
	return func(o *Orchestrator) {
		o.responder = h
	}
}

func New(
	memory contractx.SessionMemory,
	registry contractx.Registry,
	main contractx.Specialist,
	classifier contractx.Classifier,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if memory == nil {
		return nil, errors.New("session memory is required")
	}
	if registry == nil {
		return nil, errors.New("specialist registry is required")
	}
	if main == nil {
		return nil, errors.New("main handler is required")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}

	cfg = cfg.withDefaults()
	o := &Orchestrator{
		memory:     memory,
		registry:   registry,
		main:       main,
		classifier: classifier,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.responder == nil {
		o.responder = main
	}
	o.catalog = nodex.SpecialistCatalog(context.Background(), registry)
	o.health = healthx.NewAggregator(healthx.WithTimeout(cfg.HealthTimeout), healthx.WithClock(o.now))

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.runner = graphRunner
	o.persister = newPersister(memory, cfg)

	return o, nil
}

// Handle runs one message through the state machine and returns the whole
// answer. Only validation failures and an unusable orchestrator are
// returned as errors; every later failure is folded into the Response.
func (o *Orchestrator) Handle(ctx context.Context, req contractx.Request) (contractx.Response, error) {
	if err := o.ready(); err != nil {
		return contractx.Response{}, err
	}
	in, err := nodex.ValidateRequest(req, o.registry, o.newID, o.now)
	if err != nil {
		return contractx.Response{}, err
	}
	ctx = logx.WithSession(ctx, in.SessionID, in.MessageID)
	start := o.now()

	out, err := o.runner.Invoke(ctx, in)
	if err != nil {
		return contractx.Response{}, fmt.Errorf("run orchestrator graph: %w", err)
	}

	o.persister.submit(context.WithoutCancel(ctx), out.Turn, out.Session)

	logx.Ctx(ctx).Info().
		Str("agent", out.Response.AgentUsed).
		Strs("tools", out.Response.ToolsUsed).
		Dur("elapsed", o.now().Sub(start)).
		Msg("turn handled")
	return out.Response, nil
}

func (o *Orchestrator) ready() error {
	if o == nil || o.runner == nil || o.persister == nil {
		return contractx.ErrNotInitialized
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return fmt.Errorf("%w: orchestrator is closed", contractx.ErrNotInitialized)
	}
	return nil
}

type HistoryResult struct {
	SessionID string        `json:"session_id"`
	History   []statex.Turn `json:"history"`
	Count     int           `json:"count"`
}

// History returns up to limit turns in chronological order. A store failure
// yields an empty history, not an error.
func (o *Orchestrator) History(ctx context.Context, sessionID string, limit int) (HistoryResult, error) {
	if err := o.ready(); err != nil {
		return HistoryResult{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return HistoryResult{}, fmt.Errorf("%w: session id is required", contractx.ErrValidation)
	}
	turns := o.memory.GetHistory(ctx, sessionID, limit)
	return HistoryResult{
		SessionID: sessionID,
		History:   turns,
		Count:     len(turns),
	}, nil
}

// ClearSession drops the session's fast-tier state. Clearing an unknown or
// already cleared session succeeds; durable history is kept.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	if err := o.ready(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", contractx.ErrValidation)
	}
	if err := o.memory.ClearSession(ctx, sessionID); err != nil {
		return err
	}
	logx.Ctx(ctx).Info().Str("session_id", sessionID).Msg("session cleared")
	return nil
}

type StatusReport struct {
	MainAgent string                                `json:"main_agent"`
	SubAgents map[string]contractx.SpecialistStatus `json:"sub_agents"`
	Timestamp time.Time                             `json:"timestamp"`
}

// After Close every handler reports as inactive.
func (o *Orchestrator) Status(ctx context.Context) StatusReport {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()

	specs := o.registry.Specialists()
	report := StatusReport{
		MainAgent: o.main.Status(ctx).State,
		SubAgents: make(map[string]contractx.SpecialistStatus, len(specs)),
		Timestamp: o.now().UTC(),
	}
	if report.MainAgent == "" {
		report.MainAgent = stateActive
	}
	if closed {
		report.MainAgent = stateInactive
	}
	for _, spec := range specs {
		st := spec.Status(ctx)
		if closed {
			st.State = stateInactive
		}
		report.SubAgents[spec.Name()] = st
	}
	return report
}

// Health probes the responder, every specialist and both storage tiers.
func (o *Orchestrator) Health(ctx context.Context) healthx.Report {
	specs := o.registry.Specialists()
	checks := make([]healthx.Check, 0, len(specs)+3)
	checks = append(checks, healthx.Check{Name: "responder", Probe: o.responder.HealthCheck})
	for _, spec := range specs {
		checks = append(checks, healthx.Check{Name: "agent_" + spec.Name(), Probe: spec.HealthCheck})
	}
	checks = append(checks,
		healthx.Check{Name: "fast_tier", Probe: o.memory.PingFast},
		healthx.Check{Name: "durable_tier", Probe: o.memory.PingDurable},
	)
	return o.health.Run(ctx, checks...)
}

// Flush waits until every turn submitted so far has been persisted.
func (o *Orchestrator) Flush(ctx context.Context) error {
	if o == nil || o.persister == nil {
		return contractx.ErrNotInitialized
	}
	return o.persister.flush(ctx)
}

// Close stops accepting messages, waits for running streams to finish and
// drains the persistence workers.
func (o *Orchestrator) Close(ctx context.Context) error {
	if o == nil || o.persister == nil {
		return nil
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for streams: %w", ctx.Err())
	}
	return o.persister.close(ctx)
}

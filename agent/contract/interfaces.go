package contract

import (
	"context"

	statex "github.com/tanpawarit/chative-router/agent/state"
)

// Emit receives one incremental piece of a streamed answer. Returning an error
// stops the producer.
type Emit func(chunk string) error

// Specialist is the uniform dispatch contract. The generic "main" handler
// implements it as well.
type Specialist interface {
	Name() string
	Process(ctx context.Context, req SpecialistRequest) (SpecialistResponse, error)
	ProcessStream(ctx context.Context, req SpecialistRequest, emit Emit) (SpecialistResponse, error)
	HealthCheck(ctx context.Context) error
	Status(ctx context.Context) SpecialistStatus
}

// Registry is the closed set of specialists known at startup.
type Registry interface {
	Lookup(name string) (Specialist, bool)
	Names() []string
	Specialists() []Specialist
}

type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (RoutingDecision, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionMemory is the two-tier session and turn store used by the orchestrator.
type SessionMemory interface {
	GetOrCreateSessionState(ctx context.Context, sessionID string, userID string, hints map[string]any) (*statex.SessionState, error)
	UpdateSessionState(ctx context.Context, st *statex.SessionState) error
	AppendTurn(ctx context.Context, turn statex.Turn) error
	RecentTurns(ctx context.Context, sessionID string) ([]statex.Turn, error)
	GetHistory(ctx context.Context, sessionID string, limit int) []statex.Turn
	ClearSession(ctx context.Context, sessionID string) error
	PingFast(ctx context.Context) error
	PingDurable(ctx context.Context) error
}

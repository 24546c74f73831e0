package orchestratornode

import (
	"fmt"
	"maps"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

// Phase is the orchestrator state a message is in.
type Phase string

const (
	PhaseStart       Phase = "start"
	PhaseClassifying Phase = "classifying"
	PhaseRouted      Phase = "routed"
	PhaseResponding  Phase = "responding"
	PhaseFinalizing  Phase = "finalizing"
	PhaseDone        Phase = "done"
)

type GraphState struct {
	SessionID string
	MessageID string
	UserID    string
	Text      string
	Hints     map[string]any
	// Forced is a caller-requested handler; empty means classify.
	Forced string
	Now    time.Time
	Phase  Phase

	Session  *statex.SessionState
	History  []statex.Turn
	Decision contractx.RoutingDecision
	Route    string

	AgentUsed string
	Content   string
	ToolsUsed []string
	Metadata  map[string]any
	Err       error
}

// GraphOutput is what finalization hands back: the caller's response plus
// the records to persist.
type GraphOutput struct {
	Response contractx.Response
	Turn     statex.Turn
	Session  *statex.SessionState
}

// ValidateRequest is the only hard-failure step. An empty message or an
// unknown forced specialist is rejected before the state machine starts.
func ValidateRequest(
	req contractx.Request,
	registry contractx.Registry,
	newID func() string,
	nowFn func() time.Time,
) (*GraphState, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, contractx.ErrInvalidMessage)
	}

	forced := strings.ToLower(strings.TrimSpace(req.Specialist))
	if forced != "" && forced != contractx.AgentMain {
		if _, ok := registry.Lookup(forced); !ok {
			return nil, fmt.Errorf("%w: %w: %q", contractx.ErrValidation, contractx.ErrUnknownSpecialist, forced)
		}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = newID()
	}

	return &GraphState{
		SessionID: sessionID,
		MessageID: newID(),
		UserID:    strings.TrimSpace(req.UserID),
		Text:      text,
		Hints:     maps.Clone(req.Context),
		Forced:    forced,
		Now:       nowFn().UTC(),
		Phase:     PhaseStart,
		Metadata:  make(map[string]any, 8),
	}, nil
}

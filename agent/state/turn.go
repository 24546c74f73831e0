package state

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

var ErrInvalidTurn = errors.New("invalid turn")

// Turn is one immutable user-message/agent-response exchange.
type Turn struct {
	TurnID        string         `json:"turn_id"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id,omitempty"`
	UserMessage   string         `json:"user_message"`
	AgentResponse string         `json:"agent_response"`
	AgentUsed     string         `json:"agent_used"`
	ToolsUsed     []string       `json:"tools_used"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (t Turn) Validate() error {
	switch {
	case strings.TrimSpace(t.TurnID) == "":
		return errors.Join(ErrInvalidTurn, errors.New("turn id is empty"))
	case strings.TrimSpace(t.SessionID) == "":
		return errors.Join(ErrInvalidTurn, ErrInvalidSession)
	case strings.TrimSpace(t.AgentUsed) == "":
		return errors.Join(ErrInvalidTurn, errors.New("agent_used is empty"))
	case t.Timestamp.IsZero():
		return errors.Join(ErrInvalidTurn, errors.New("timestamp is zero"))
	}
	return nil
}

// Clone copies the slices and the top level of the metadata map so the copy
// can be handed to a background writer.
func (t Turn) Clone() Turn {
	t.ToolsUsed = slices.Clone(t.ToolsUsed)
	if t.ToolsUsed == nil {
		t.ToolsUsed = []string{}
	}
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

package state

import (
	"errors"
	"maps"
	"strings"
	"time"
)

// SessionState is the fast-tier record of one conversation.
// Context holds caller hints (platform, locale, ...) and is forwarded, never interpreted.
type SessionState struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Context      map[string]any `json:"context,omitempty"`
	Preferences  map[string]any `json:"preferences,omitempty"`

	// CurrentTopic is the agent that answered the latest turn.
	CurrentTopic string `json:"current_topic,omitempty"`
	TurnCount    int    `json:"turn_count"`
}

var ErrInvalidTimestamps = errors.New("last_activity precedes created_at")

func NewSessionState(sessionID, userID string, hints map[string]any, now time.Time) *SessionState {
	now = now.UTC()
	st := &SessionState{
		SessionID:    sessionID,
		UserID:       strings.TrimSpace(userID),
		CreatedAt:    now,
		LastActivity: now,
		Context:      make(map[string]any, len(hints)),
		Preferences:  make(map[string]any, 2),
	}
	st.MergeContext(hints)
	return st
}

func (s *SessionState) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// MergeContext overlays caller hints onto the stored context.
func (s *SessionState) MergeContext(hints map[string]any) {
	if len(hints) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]any, len(hints))
	}
	maps.Copy(s.Context, hints)
}

// RecordTurn advances the session after a turn answered by agent.
func (s *SessionState) RecordTurn(agent, userID string, now time.Time) {
	if s.UserID == "" {
		s.UserID = strings.TrimSpace(userID)
	}
	s.CurrentTopic = agent
	s.TurnCount++
	s.Touch(now)
}

func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = maps.Clone(s.Context)
	out.Preferences = maps.Clone(s.Preferences)
	return &out
}

func (s *SessionState) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	if !s.CreatedAt.IsZero() && s.LastActivity.Before(s.CreatedAt) {
		return ErrInvalidTimestamps
	}
	return nil
}

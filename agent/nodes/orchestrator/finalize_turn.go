package orchestratornode

import (
	"fmt"
	"maps"
	"slices"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

// FinalizeTurn stamps completion metadata and builds the response, the
// immutable turn and the advanced session record. Persisting them is the
// caller's job.
func FinalizeTurn(in *GraphState, newID func() string, nowFn func() time.Time) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseFinalizing

	agent := in.AgentUsed
	if agent == "" {
		agent = contractx.AgentMain
	}
	toolsUsed := slices.Clone(in.ToolsUsed)
	if toolsUsed == nil {
		toolsUsed = []string{}
	}

	now := nowFn().UTC()
	if now.Before(in.Now) {
		now = in.Now
	}
	in.Metadata["processed_at"] = now.Format(time.RFC3339Nano)
	in.Metadata["message_id"] = in.MessageID

	session := in.Session.Clone()
	if session == nil {
		session = statex.NewSessionState(in.SessionID, in.UserID, in.Hints, in.Now)
	}
	session.RecordTurn(agent, in.UserID, now)

	turn := statex.Turn{
		TurnID:        newID(),
		SessionID:     in.SessionID,
		UserID:        in.UserID,
		UserMessage:   in.Text,
		AgentResponse: in.Content,
		AgentUsed:     agent,
		ToolsUsed:     slices.Clone(toolsUsed),
		Metadata:      maps.Clone(in.Metadata),
		Timestamp:     now,
	}

	in.Phase = PhaseDone
	return GraphOutput{
		Response: contractx.Response{
			SessionID: in.SessionID,
			MessageID: in.MessageID,
			Content:   in.Content,
			AgentUsed: agent,
			ToolsUsed: toolsUsed,
			Metadata:  in.Metadata,
			Timestamp: now,
		},
		Turn:    turn,
		Session: session,
	}, nil
}

package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// LoadSession attaches the session record and its recent turns. A fast tier
// outage does not stop the turn: the message is answered against a fresh
// in-memory session and the failure is recorded in metadata.
func LoadSession(
	ctx context.Context,
	in *GraphState,
	memory contractx.SessionMemory,
	historyWindow int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := memory.GetOrCreateSessionState(ctx, in.SessionID, in.UserID, in.Hints)
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Msg("session load failed, continuing with a transient session")
		in.Metadata["session_error"] = err.Error()
		st = statex.NewSessionState(in.SessionID, in.UserID, in.Hints, in.Now)
	}
	in.Session = st

	recent, err := memory.RecentTurns(ctx, in.SessionID)
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Msg("recent turns unavailable")
		recent = nil
	}
	if historyWindow > 0 && len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	in.History = recent
	return in, nil
}

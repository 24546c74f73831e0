package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// DiagnosticContent is shown to the user when the handler fails.
const DiagnosticContent = "Sorry, I ran into a problem while answering your request. Please try again in a moment."

const (
	errorTypeTimeout   = "timeout"
	errorTypeResponder = "responder_error"
	errorTypeCancelled = "cancelled"
)

// PickHandler returns the handler for the route chosen by ClassifyIntent.
func PickHandler(in *GraphState, registry contractx.Registry, main contractx.Specialist) contractx.Specialist {
	if in == nil || in.Route == "" || in.Route == contractx.AgentMain {
		return main
	}
	if spec, ok := registry.Lookup(in.Route); ok {
		return spec
	}
	return main
}

// BuildSpecialistRequest is the request every handler receives.
func BuildSpecialistRequest(in *GraphState) contractx.SpecialistRequest {
	req := contractx.SpecialistRequest{
		Message:   in.Text,
		SessionID: in.SessionID,
		UserID:    in.UserID,
		History:   in.History,
	}
	if in.Session != nil {
		req.Context = maps.Clone(in.Session.Context)
	}
	return req
}

// DispatchSpecialist runs the routed handler under timeout. Handler errors
// become diagnostic content; the node itself does not fail.
func DispatchSpecialist(
	ctx context.Context,
	in *GraphState,
	handler contractx.Specialist,
	timeout time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: no handler for route %q", contractx.ErrNotInitialized, in.Route)
	}
	in.Phase = PhaseResponding

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := handler.Process(callCtx, BuildSpecialistRequest(in))
	if err != nil {
		ApplyFailure(ctx, in, handler.Name(), WithDeadline(callCtx, err))
		return in, nil
	}
	ApplyResponse(in, handler.Name(), resp)
	return in, nil
}

// WithDeadline tags err with ErrTimeout when callCtx ran out of time. Model
// clients often flatten the context error into text.
func WithDeadline(callCtx context.Context, err error) error {
	if err == nil || errors.Is(err, contractx.ErrTimeout) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", contractx.ErrTimeout, err)
	}
	return err
}

// ApplyResponse records a successful answer from agent.
func ApplyResponse(in *GraphState, agent string, resp contractx.SpecialistResponse) {
	in.AgentUsed = agent
	in.Content = strings.TrimSpace(resp.Content)
	in.ToolsUsed = slices.Clone(resp.ToolsUsed)
	for k, v := range resp.Metadata {
		if _, taken := in.Metadata[k]; !taken {
			in.Metadata[k] = v
		}
	}
}

// ApplyFailure turns a handler failure into diagnostic content plus an
// error marker in metadata.
func ApplyFailure(ctx context.Context, in *GraphState, agent string, err error) {
	errType := errorTypeResponder
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, contractx.ErrTimeout):
		errType = errorTypeTimeout
	case errors.Is(err, context.Canceled):
		errType = errorTypeCancelled
	}

	logx.Ctx(ctx).Error().Err(err).Str("agent", agent).Str("error_type", errType).Msg("handler failed")

	in.AgentUsed = agent
	in.Content = DiagnosticContent
	in.ToolsUsed = nil
	in.Err = err
	in.Metadata["error"] = err.Error()
	in.Metadata["error_type"] = errType
}

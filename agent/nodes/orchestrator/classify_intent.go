package orchestratornode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const reasonForced = "specialist requested by caller"

// ClassifyIntent produces the routing decision and the route. It never
// fails the turn: classifier errors and timeouts degrade to the generic
// handler, and the cause is kept under metadata.classification_error.
func ClassifyIntent(
	ctx context.Context,
	in *GraphState,
	classifier contractx.Classifier,
	registry contractx.Registry,
	catalog map[string]string,
	timeout time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseClassifying

	var decision contractx.RoutingDecision
	switch {
	case in.Forced != "":
		decision = contractx.RoutingDecision{
			RequiresSpecialist: in.Forced != contractx.AgentMain,
			SpecialistName:     in.Forced,
			Confidence:         1,
			Reasoning:          reasonForced,
		}.Normalized()
		in.Metadata["forced_specialist"] = in.Forced
	default:
		decision = classify(ctx, in, classifier, catalog, timeout)
	}

	route, fallback := resolveRoute(decision, registry)
	if fallback {
		logx.Ctx(ctx).Warn().
			Str("specialist", decision.SpecialistName).
			Msg("classifier named an unregistered specialist, routing to main")
		in.Metadata["routing_fallback"] = decision.SpecialistName
	}

	in.Decision = decision
	in.Route = route
	in.Metadata["intent_analysis"] = decision.AsMetadata()
	in.Phase = PhaseRouted
	return in, nil
}

func classify(
	ctx context.Context,
	in *GraphState,
	classifier contractx.Classifier,
	catalog map[string]string,
	timeout time.Duration,
) contractx.RoutingDecision {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var ctxHints map[string]any
	if in.Session != nil {
		ctxHints = in.Session.Context
	}
	decision, err := classifier.Classify(ctx, contractx.ClassifyRequest{
		Message:     in.Text,
		Specialists: catalog,
		History:     in.History,
		Context:     ctxHints,
	})
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: classification: %v", contractx.ErrTimeout, err)
		}
		logx.Ctx(ctx).Warn().Err(err).Msg("classification failed, routing to main")
		in.Metadata["classification_error"] = err.Error()
		return contractx.FallbackDecision("classification unavailable")
	}
	return decision.Normalized()
}

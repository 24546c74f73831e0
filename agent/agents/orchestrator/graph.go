package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	nodex "github.com/tanpawarit/chative-router/agent/nodes/orchestrator"
)

const (
	nodeRespondMain       = "respond_main"
	nodeRespondSpecialist = "respond_specialist"
)

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[*nodex.GraphState, nodex.GraphOutput], error) {
	graph := compose.NewGraph[*nodex.GraphState, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("load_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadSession(ctx, in, o.memory, o.cfg.HistoryWindow)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_session: %w", err)
	}

	if err := graph.AddLambdaNode("classify_intent",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ClassifyIntent(ctx, in, o.classifier, o.registry, o.catalog, o.cfg.ClassifyTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify_intent: %w", err)
	}

	if err := graph.AddLambdaNode(nodeRespondMain,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DispatchSpecialist(ctx, in, o.main, o.cfg.RespondTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeRespondMain, err)
	}

	if err := graph.AddLambdaNode(nodeRespondSpecialist,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DispatchSpecialist(ctx, in, nodex.PickHandler(in, o.registry, o.main), o.cfg.RespondTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeRespondSpecialist, err)
	}

	if err := graph.AddLambdaNode("finalize_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeTurn(in, o.newID, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_turn: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			if in.Route == "" || in.Route == contractx.AgentMain {
				return nodeRespondMain, nil
			}
			return nodeRespondSpecialist, nil
		},
		map[string]bool{
			nodeRespondMain:       true,
			nodeRespondSpecialist: true,
		},
	)
	if err := graph.AddBranch("classify_intent", branch); err != nil {
		return nil, fmt.Errorf("add routing branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "load_session"},
		{"load_session", "classify_intent"},
		{nodeRespondMain, "finalize_turn"},
		{nodeRespondSpecialist, "finalize_turn"},
		{"finalize_turn", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

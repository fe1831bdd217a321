package turn

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/Crohns-Kate/echo-desk-sub000/agent/contract"
)

// compileTurnGraph wires the turn pipeline. The shape is a straight line with
// one branch after signal extraction: deterministic escalation triggers skip
// inference entirely and go straight to the handoff tail. Both paths converge
// on reply composition.
func (p *Processor) compileTurnGraph(
	ctx context.Context,
) (compose.Runnable[contractx.TurnRequest, contractx.TurnResult], error) {
	graph := compose.NewGraph[contractx.TurnRequest, contractx.TurnResult]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in contractx.TurnRequest) (*TurnState, error) {
			return validateRequest(in, p.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_context",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return loadOrCreateContext(ctx, in, p.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_context: %w", err)
	}

	if err := graph.AddLambdaNode("extract_signals",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return extractSignals(in, p.detector)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node extract_signals: %w", err)
	}

	if err := graph.AddLambdaNode("handle_handoff",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return handleHandoff(ctx, in, p.alerts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node handle_handoff: %w", err)
	}

	if err := graph.AddLambdaNode("run_inference",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return runInference(ctx, in, p.engine)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_inference: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_availability",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return resolveAvailability(ctx, in, p.resolver, p.engine, p.detector)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_availability: %w", err)
	}

	if err := graph.AddLambdaNode("apply_guards",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return applyGuards(in, p.detector)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node apply_guards: %w", err)
	}

	if err := graph.AddLambdaNode("run_side_effects",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return runSideEffects(ctx, in, sideEffectDeps{
				executor:  p.executor,
				scheduler: p.scheduler,
				notifier:  p.notifier,
				alerts:    p.alerts,
				detector:  p.detector,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_side_effects: %w", err)
	}

	if err := graph.AddLambdaNode("compose_reply",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return composeReply(ctx, in, p.alerts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node compose_reply: %w", err)
	}

	if err := graph.AddLambdaNode("save_context",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (*TurnState, error) {
			return saveContext(ctx, in, p.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_context: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_turn",
		compose.InvokableLambda(func(ctx context.Context, in *TurnState) (contractx.TurnResult, error) {
			return finalizeTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_turn: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *TurnState) (string, error) {
			if in == nil || in.CC == nil {
				return "", fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
			}
			if p.shouldHandoff(in) {
				return "handle_handoff", nil
			}
			return "run_inference", nil
		},
		map[string]bool{
			"handle_handoff": true,
			"run_inference":  true,
		},
	)
	if err := graph.AddBranch("extract_signals", branch); err != nil {
		return nil, fmt.Errorf("add escalation branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_context"},
		{"load_context", "extract_signals"},
		{"handle_handoff", "compose_reply"},
		{"run_inference", "resolve_availability"},
		{"resolve_availability", "apply_guards"},
		{"apply_guards", "run_side_effects"},
		{"run_side_effects", "compose_reply"},
		{"compose_reply", "save_context"},
		{"save_context", "finalize_turn"},
		{"finalize_turn", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("turn.process_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}

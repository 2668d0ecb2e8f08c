package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/PIliev24/agent-orchestrator/graph/model"
)

// runContext carries everything a node Executor needs beyond its own state
// snapshot: access back to the owning Engine (for resolving models/tools and,
// for SUBGRAPH, recursing into a child Run), plus per-execution bookkeeping
// that outlives any single super-step (spec.md §4.2).
type runContext struct {
	engine    *Engine
	runID     string
	threadID  string
	stepIndex int
	exec      *execState
}

// execState is the scheduler-owned, per-execution state that node executors
// read but never mutate directly: the join ledger and the deltas a JOIN node
// aggregates once all of its wait_for predecessors have completed (spec.md
// §4.2 JOIN executor, "consults the scheduler's join ledger").
type execState struct {
	ledger        map[string]*JoinLedgerEntry
	pendingDeltas map[string]map[string]State
	joinAggDelta  map[string]State
	predToJoins   map[string][]string
}

// dispatch returns the Executor for one of the five closed node kinds
// (spec.md §9 "Dynamic-dispatch node kinds": a closed set of variants plus
// dispatch on kind, not open inheritance).
func dispatch(kind NodeKind) Executor {
	switch kind {
	case KindAgent:
		return agentExecutor
	case KindRouter:
		return routerExecutor
	case KindParallel:
		return parallelExecutor
	case KindJoin:
		return joinExecutor
	case KindSubgraph:
		return subgraphExecutor
	default:
		return func(ctx context.Context, rt *runContext, node *CompiledNode, state State) NodeOutcome {
			return FailOutcome(ErrCompilation, fmt.Sprintf("unknown node kind %q", node.Spec.Kind), false)
		}
	}
}

// singleOutEdgeTarget returns the target of a node's sole outgoing edge,
// falling back to __end__ if the node (misconfigured past compile time)
// has none.
func singleOutEdgeTarget(node *CompiledNode) string {
	if len(node.OutEdges) == 0 {
		return EndSentinel
	}
	return node.OutEdges[0].TargetID
}

// agentExecutor materializes the node's input_mapping, drives the bounded
// tool loop, and writes the result under output_key (spec.md §4.2 AGENT).
func agentExecutor(ctx context.Context, rt *runContext, node *CompiledNode, state State) NodeOutcome {
	spec := node.Spec

	args, err := ResolveMapping(spec.InputMapping, state)
	if err != nil {
		return FailOutcome(ErrCompilation, fmt.Sprintf("resolve input_mapping: %v", err), false)
	}

	chatModel, err := rt.engine.models.Resolve(node.Agent.ModelConfig)
	if err != nil {
		return FailOutcome(ErrProvider, fmt.Sprintf("resolve model for provider %q: %v", node.Agent.ModelConfig.Provider, err), true)
	}

	tools := make([]ToolBinding, 0, len(spec.ToolIDs))
	for _, toolID := range spec.ToolIDs {
		def := node.Tools[toolID]
		binding, err := rt.engine.registry.Resolve(toolID)
		if err != nil {
			// Tool is declared on the node but has no runtime implementation
			// registered; expose the name to the model with a nil impl so
			// any call attempt surfaces ToolUnavailable to the agent itself
			// rather than failing the node outright (spec.md §4.5).
			binding = ToolBinding{Def: def}
		}
		tools = append(tools, binding)
	}

	systemPrompt := spec.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = node.Agent.SystemPrompt
	}

	result, err := RunAgentLoop(ctx, AgentLoopConfig{
		SystemPrompt:   systemPrompt,
		Model:          chatModel,
		ModelName:      node.Agent.ModelConfig.ModelName,
		Tools:          tools,
		MaxIterations:  spec.MaxIter,
		OnBudget:       spec.OnBudget,
		OutputSchema:   node.OutputSchema,
		PerCallTimeout: rt.engine.opts.PerToolCallTimeout,
		CostTracker:    rt.engine.opts.CostTracker,
		NodeID:         spec.ID,
		Emitter:        rt.engine.emitter,
		RunID:          rt.runID,
		StepIndex:      rt.stepIndex,
	}, args)
	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) {
			return FailOutcome(ee.Kind, ee.Message, ee.Kind.Retryable())
		}
		return FailOutcome(ErrProvider, err.Error(), true)
	}

	output := any(result.Text)
	if result.StructuredOutput != nil {
		output = result.StructuredOutput
	}

	delta := State{}
	if spec.OutputKey != "" {
		delta[spec.OutputKey] = output
	}
	return StateUpdateOutcome(delta, singleOutEdgeTarget(node))
}

// routerExecutor evaluates each outgoing edge's condition in declared order;
// the first match wins, the synthesized default always matches last
// (spec.md §4.2 ROUTER). Routers produce no state delta.
func routerExecutor(ctx context.Context, rt *runContext, node *CompiledNode, state State) NodeOutcome {
	for i, cond := range node.Conditions {
		matched, err := cond.Eval(state)
		if err != nil {
			return FailOutcome(ErrCompilation, fmt.Sprintf("router condition evaluation: %v", err), false)
		}
		if matched {
			target := node.OutEdges[i].TargetID
			rt.emitRoutingDecision(node.Spec.ID, target, cond.Raw())
			return StateUpdateOutcome(State{}, target)
		}
	}
	return FailOutcome(ErrCompilation, fmt.Sprintf("router %q: no condition matched and no default route was synthesized", node.Spec.ID), false)
}

// parallelExecutor emits one frontier entry per outgoing edge; the scheduler
// runs them concurrently in the next super-step (spec.md §4.2 PARALLEL).
func parallelExecutor(ctx context.Context, rt *runContext, node *CompiledNode, state State) NodeOutcome {
	targets := make([]string, len(node.OutEdges))
	for i, e := range node.OutEdges {
		targets[i] = e.TargetID
	}
	return StateUpdateOutcome(State{}, targets...)
}

// joinExecutor applies the precomputed aggregation the scheduler already
// performed once every wait_for predecessor completed (spec.md §4.2 JOIN).
// The aggregation itself happens in the scheduler (engine.go), not here,
// because a join's readiness depends on sibling nodes this executor has no
// visibility into; by the time joinExecutor runs, exec.joinAggDelta already
// holds the synthesized delta.
func joinExecutor(ctx context.Context, rt *runContext, node *CompiledNode, state State) NodeOutcome {
	delta := rt.exec.joinAggDelta[node.Spec.ID]
	if delta == nil {
		delta = State{}
	}
	return StateUpdateOutcome(delta, singleOutEdgeTarget(node))
}

// subgraphExecutor projects a subset of parent state into the child graph's
// input, runs it to completion sharing the parent's checkpointer under a
// namespaced thread id, and merges its final state under output_key
// (spec.md §4.2 SUBGRAPH). Cancellation and timeouts propagate via ctx.
func subgraphExecutor(ctx context.Context, rt *runContext, node *CompiledNode, state State) NodeOutcome {
	spec := node.Spec

	childInput, err := ResolveMapping(spec.SubInputMapping, state)
	if err != nil {
		return FailOutcome(ErrCompilation, fmt.Sprintf("resolve subgraph input_mapping: %v", err), false)
	}

	childThreadID := rt.threadID + "/" + spec.ID
	resp, err := rt.engine.Run(ctx, node.Subgraph, ExecutionRequest{
		WorkflowID: spec.SubgraphID,
		ThreadID:   childThreadID,
		Input:      childInput,
	})
	if err != nil {
		return FailOutcome(ErrProvider, fmt.Sprintf("subgraph %q: %v", spec.SubgraphID, err), false)
	}

	switch resp.Status {
	case StatusAwaitingInput:
		return SuspendOutcome(resp.AwaitingInputReason)
	case StatusFailed:
		return FailOutcome(ErrProvider, fmt.Sprintf("subgraph %q failed: %s", spec.SubgraphID, resp.Error), false)
	case StatusCancelled:
		return FailOutcome(ErrCancelled, fmt.Sprintf("subgraph %q cancelled", spec.SubgraphID), false)
	}

	delta := State{}
	if spec.SubOutputKey != "" {
		delta[spec.SubOutputKey] = map[string]any(resp.Output)
	} else {
		for k, v := range resp.Output {
			delta[k] = v
		}
	}
	return StateUpdateOutcome(delta, singleOutEdgeTarget(node))
}

// toolSpecsFor returns the model-facing ToolSpec list for an agent node's
// tool bindings, without driving a full loop.
func toolSpecsFor(tools []ToolBinding) []model.ToolSpec {
	specs := make([]model.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = model.ToolSpec{Name: t.Def.Name, Schema: t.Def.Schema}
	}
	return specs
}

package graph

import (
	"errors"
	"testing"
)

type fakeResolver struct {
	agents    map[string]AgentDefinition
	tools     map[string]ToolDefinition
	subgraphs map[string]GraphDescription
}

func (r *fakeResolver) ResolveAgent(agentID string) (AgentDefinition, error) {
	a, ok := r.agents[agentID]
	if !ok {
		return AgentDefinition{}, errors.New("agent not found: " + agentID)
	}
	return a, nil
}

func (r *fakeResolver) ResolveTool(toolID string) (ToolDefinition, error) {
	tl, ok := r.tools[toolID]
	if !ok {
		return ToolDefinition{}, errors.New("tool not found: " + toolID)
	}
	return tl, nil
}

func (r *fakeResolver) ResolveSubgraph(subgraphID string) (GraphDescription, error) {
	g, ok := r.subgraphs[subgraphID]
	if !ok {
		return GraphDescription{}, errors.New("subgraph not found: " + subgraphID)
	}
	return g, nil
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		agents:    map[string]AgentDefinition{"agent-1": {ID: "agent-1"}},
		tools:     map[string]ToolDefinition{},
		subgraphs: map[string]GraphDescription{},
	}
}

// linearAgentChain builds the S1 scenario graph: start -> A -> B -> end.
func linearAgentChain() GraphDescription {
	return GraphDescription{
		EntryPoint: "A",
		Nodes: []NodeSpec{
			{ID: "A", Kind: KindAgent, AgentID: "agent-1", OutputKey: "x"},
			{ID: "B", Kind: KindAgent, AgentID: "agent-1", OutputKey: "y"},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "A"},
			{SourceID: "A", TargetID: "B"},
			{SourceID: "B", TargetID: EndSentinel},
		},
	}
}

func TestCompile_LinearChainSucceeds(t *testing.T) {
	cg, err := Compile(linearAgentChain(), newFakeResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cg.Nodes) != 2 {
		t.Errorf("expected 2 compiled nodes, got %d", len(cg.Nodes))
	}
	if cg.Nodes["A"].Agent == nil || cg.Nodes["A"].Agent.ID != "agent-1" {
		t.Errorf("expected node A to have resolved agent-1, got %+v", cg.Nodes["A"].Agent)
	}
}

func TestCompile_DuplicateNodeIDsFail(t *testing.T) {
	desc := linearAgentChain()
	desc.Nodes = append(desc.Nodes, NodeSpec{ID: "A", Kind: KindAgent, AgentID: "agent-1"})

	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for duplicate node ids")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Kind != ErrCompilation {
		t.Errorf("expected ErrCompilation, got %v", err)
	}
}

func TestCompile_DanglingEdgeEndpointFails(t *testing.T) {
	desc := linearAgentChain()
	desc.Edges = append(desc.Edges, EdgeSpec{SourceID: "B", TargetID: "ghost"})

	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for a dangling edge target")
	}
}

func TestCompile_RouterWithNoOutgoingEdgesFails(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "R",
		Nodes:      []NodeSpec{{ID: "R", Kind: KindRouter}},
		Edges:      []EdgeSpec{{SourceID: StartSentinel, TargetID: "R"}},
	}
	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for a router with no outgoing edges")
	}
}

func TestCompile_ParallelWithFewerThanTwoOutgoingEdgesFails(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "P",
		Nodes: []NodeSpec{
			{ID: "P", Kind: KindParallel},
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "P"},
			{SourceID: "P", TargetID: "A"},
			{SourceID: "A", TargetID: EndSentinel},
		},
	}
	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for a parallel node with a single outgoing edge")
	}
}

func TestCompile_JoinWithMismatchedWaitForFails(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "P",
		Nodes: []NodeSpec{
			{ID: "P", Kind: KindParallel},
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "B", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "J", Kind: KindJoin, WaitFor: []string{"A", "C"}, Aggregation: AggMergeObject},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "P"},
			{SourceID: "P", TargetID: "A"},
			{SourceID: "P", TargetID: "B"},
			{SourceID: "A", TargetID: "J"},
			{SourceID: "B", TargetID: "J"},
			{SourceID: "J", TargetID: EndSentinel},
		},
	}
	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for wait_for not matching incoming predecessors")
	}
}

func TestCompile_ParallelJoinFanOutSucceeds(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "P",
		Nodes: []NodeSpec{
			{ID: "P", Kind: KindParallel},
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "B", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "J", Kind: KindJoin, WaitFor: []string{"A", "B"}, Aggregation: AggMergeObject},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "P"},
			{SourceID: "P", TargetID: "A"},
			{SourceID: "P", TargetID: "B"},
			{SourceID: "A", TargetID: "J"},
			{SourceID: "B", TargetID: "J"},
			{SourceID: "J", TargetID: EndSentinel},
		},
	}
	cg, err := Compile(desc, newFakeResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cg.ParallelJoins["P"] != "J" {
		t.Errorf("expected parallel node P to pair with join J, got %q", cg.ParallelJoins["P"])
	}
}

func TestCompile_ParallelBranchesConvergingOnDifferentJoinsFails(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "P",
		Nodes: []NodeSpec{
			{ID: "P", Kind: KindParallel},
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "B", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "C", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "D", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "J1", Kind: KindJoin, WaitFor: []string{"A"}, Aggregation: AggMergeObject},
			{ID: "J2", Kind: KindJoin, WaitFor: []string{"B"}, Aggregation: AggMergeObject},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "P"},
			{SourceID: "P", TargetID: "A"},
			{SourceID: "P", TargetID: "B"},
			{SourceID: "A", TargetID: "J1"},
			{SourceID: "B", TargetID: "J2"},
			{SourceID: "J1", TargetID: "C"},
			{SourceID: "J2", TargetID: "D"},
			{SourceID: "C", TargetID: EndSentinel},
			{SourceID: "D", TargetID: EndSentinel},
		},
	}
	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for a parallel node whose branches converge on two different joins")
	}
}

func TestCompile_UnconditionalCycleFails(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "A",
		Nodes: []NodeSpec{
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "B", Kind: KindAgent, AgentID: "agent-1"},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "A"},
			{SourceID: "A", TargetID: "B"},
			{SourceID: "B", TargetID: "A"},
		},
	}
	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for a cycle with no router to break out")
	}
}

func TestCompile_CycleWithRouterIsPermitted(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "A",
		Nodes: []NodeSpec{
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
			{ID: "R", Kind: KindRouter},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "A"},
			{SourceID: "A", TargetID: "R"},
			{SourceID: "R", TargetID: "A", Condition: `state.Get("retry", false)`},
			{SourceID: "R", TargetID: EndSentinel, Condition: "default"},
		},
	}
	_, err := Compile(desc, newFakeResolver())
	if err != nil {
		t.Fatalf("expected cycle with router to compile, got error: %v", err)
	}
}

func TestCompile_RouterSynthesizesDefaultRouteWhenMissing(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "R",
		Nodes: []NodeSpec{
			{ID: "R", Kind: KindRouter},
			{ID: "A", Kind: KindAgent, AgentID: "agent-1"},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "R"},
			{SourceID: "R", TargetID: "A", Condition: `state.Get("go", false)`},
			{SourceID: "A", TargetID: EndSentinel},
		},
	}
	cg, err := Compile(desc, newFakeResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	router := cg.Nodes["R"]
	if len(router.OutEdges) != 2 {
		t.Fatalf("expected a synthesized default edge, got %d out edges", len(router.OutEdges))
	}
	last := router.OutEdges[len(router.OutEdges)-1]
	if last.Condition != "default" || last.TargetID != EndSentinel {
		t.Errorf("expected synthesized default edge to __end__, got %+v", last)
	}
}

func TestCompile_InvalidRouterConditionFails(t *testing.T) {
	desc := GraphDescription{
		EntryPoint: "R",
		Nodes:      []NodeSpec{{ID: "R", Kind: KindRouter}},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "R"},
			{SourceID: "R", TargetID: EndSentinel, Condition: "this is not valid expr syntax $$$"},
		},
	}
	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for an invalid router condition")
	}
}

func TestCompile_UnresolvableAgentReferenceFails(t *testing.T) {
	desc := linearAgentChain()
	desc.Nodes[0].AgentID = "does-not-exist"

	_, err := Compile(desc, newFakeResolver())
	if err == nil {
		t.Fatal("expected a compilation error for an unresolvable agent reference")
	}
}

func TestCompile_UnreachableNodeProducesWarningNotError(t *testing.T) {
	desc := linearAgentChain()
	desc.Nodes = append(desc.Nodes, NodeSpec{ID: "orphan", Kind: KindAgent, AgentID: "agent-1"})

	cg, err := Compile(desc, newFakeResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range cg.Warnings {
		if w == `node "orphan" is unreachable from __start__` {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unreachable-node warning, got %v", cg.Warnings)
	}
}

func TestCompile_PropertySchemaCompilesAndValidates(t *testing.T) {
	desc := linearAgentChain()
	desc.StateSchema = StateSchema{
		Properties: map[string]PropertySchema{
			"x": {Merge: Replace, Schema: map[string]any{"type": "integer"}},
		},
	}
	cg, err := Compile(desc, newFakeResolver())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	schema, ok := cg.PropertySchemas["x"]
	if !ok {
		t.Fatal("expected a compiled schema for property x")
	}
	if err := schema.Validate(float64(3)); err != nil {
		t.Errorf("expected 3 to validate against an integer schema, got %v", err)
	}
	if err := schema.Validate("not a number"); err == nil {
		t.Error("expected a string to fail an integer schema")
	}
}

func TestCompile_SubgraphResolvesAndCompilesRecursively(t *testing.T) {
	resolver := newFakeResolver()
	resolver.subgraphs["child"] = linearAgentChain()

	desc := GraphDescription{
		EntryPoint: "S",
		Nodes: []NodeSpec{
			{ID: "S", Kind: KindSubgraph, SubgraphID: "child", SubOutputKey: "child_out"},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "S"},
			{SourceID: "S", TargetID: EndSentinel},
		},
	}
	cg, err := Compile(desc, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cg.Nodes["S"].Subgraph == nil {
		t.Fatal("expected the subgraph node to carry a compiled child graph")
	}
	if len(cg.Nodes["S"].Subgraph.Nodes) != 2 {
		t.Errorf("expected the compiled child graph to have 2 nodes, got %d", len(cg.Nodes["S"].Subgraph.Nodes))
	}
}

func TestCompile_SubgraphDepthExceededFails(t *testing.T) {
	resolver := newFakeResolver()

	selfRef := GraphDescription{
		EntryPoint: "S",
		Nodes: []NodeSpec{
			{ID: "S", Kind: KindSubgraph, SubgraphID: "self"},
		},
		Edges: []EdgeSpec{
			{SourceID: StartSentinel, TargetID: "S"},
			{SourceID: "S", TargetID: EndSentinel},
		},
	}
	resolver.subgraphs["self"] = selfRef

	_, err := Compile(selfRef, resolver)
	if err == nil {
		t.Fatal("expected a compilation error for subgraph nesting exceeding the depth limit")
	}
	if !errors.Is(err, &EngineError{Kind: ErrCompilation}) {
		t.Errorf("expected ErrCompilation, got %v", err)
	}
}

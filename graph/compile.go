package graph

import (
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// maxSubgraphDepth bounds SUBGRAPH recursion at compile time (spec.md §5
// "Reentrancy"). A workflow nesting subgraphs deeper than this is almost
// always an authoring mistake, not an intentional design.
const maxSubgraphDepth = 4

// CompiledNode is one node's description plus everything the compiler
// resolved on its behalf: its bound agent/tool definitions, its compiled
// router conditions (in declaration order), and — for SUBGRAPH — the nested
// CompiledGraph.
type CompiledNode struct {
	Spec NodeSpec

	Agent *AgentDefinition
	Tools map[string]ToolDefinition

	OutEdges   []EdgeSpec
	Conditions []*CompiledCondition // ROUTER nodes only, parallel to OutEdges; an unconditional edge compiles to an always-match default; nil for other kinds

	// OutputSchema is the compiled form of Agent.OutputSchema, when an AGENT
	// node's agent declares one, enabling structured-output mode without
	// recompiling the schema on every tool-loop iteration.
	OutputSchema *jsonschema.Schema

	Subgraph *CompiledGraph

	// AwaitInputCond is the compiled form of Spec.AwaitInput, evaluated by
	// the scheduler before dispatch (spec.md §4.2 Suspend). Nil when the
	// node declares no gate.
	AwaitInputCond *CompiledCondition
}

// CompiledGraph is the immutable, execution-ready form of a GraphDescription
// (spec.md §3 "Compiled graph"). It is produced once by compile and shared
// across every execution of that workflow version.
type CompiledGraph struct {
	Nodes       map[string]*CompiledNode
	EntryPoint  string
	StateSchema StateSchema

	// PropertySchemas holds the compiled JSON Schema for each state property
	// that declared one, keyed by property name.
	PropertySchemas map[string]*jsonschema.Schema

	successors   map[string][]EdgeSpec
	predecessors map[string][]string

	// ParallelJoins maps a PARALLEL node id to the unique join node its
	// branches post-dominate at, when one exists.
	ParallelJoins map[string]string

	// Warnings holds non-fatal compiler observations (e.g. unreachable
	// nodes) that a caller may choose to log via its Emitter.
	Warnings []string
}

// Compile validates description and produces an executable CompiledGraph, or
// a *CompilationError collecting every violation found (spec.md §4.1).
// Compile never returns a partially valid graph: either every phase passes
// and CompiledGraph is safe to execute repeatedly, or an error is returned
// and the caller must not use the zero CompiledGraph.
func Compile(description GraphDescription, resolver Resolver) (*CompiledGraph, error) {
	return compile(description, resolver, 0)
}

func compile(description GraphDescription, resolver Resolver, depth int) (*CompiledGraph, error) {
	if depth > maxSubgraphDepth {
		return nil, &EngineError{Kind: ErrCompilation, Message: fmt.Sprintf("subgraph nesting exceeds the maximum depth of %d", maxSubgraphDepth), Cause: ErrSubgraphDepthExceeded}
	}

	structuralViolations := validateStructural(description)
	if len(structuralViolations) > 0 {
		return nil, (&CompilationError{Violations: structuralViolations}).AsEngineError()
	}

	successors, predecessors := buildAdjacency(description)

	var violations []string

	warnings := validateReachability(description, successors)

	violations = append(violations, validateCyclePolicy(description, successors)...)

	parallelJoins, pairingViolations := validateParallelJoinPairing(description, successors)
	violations = append(violations, pairingViolations...)

	conditionsByNode, routerEdgesByNode, routerViolations := compileRouterConditions(description)
	violations = append(violations, routerViolations...)

	propertySchemas, schemaViolations := compilePropertySchemas(description.StateSchema)
	violations = append(violations, schemaViolations...)

	if len(violations) > 0 {
		return nil, (&CompilationError{Violations: violations}).AsEngineError()
	}

	nodes := make(map[string]*CompiledNode, len(description.Nodes))
	for _, spec := range description.Nodes {
		outEdges := successors[spec.ID]
		if spec.Kind == KindRouter {
			outEdges = routerEdgesByNode[spec.ID]
		}
		cn := &CompiledNode{
			Spec:       spec,
			OutEdges:   outEdges,
			Conditions: conditionsByNode[spec.ID],
		}

		if spec.AwaitInput != "" {
			cond, err := compileCondition(spec.AwaitInput)
			if err != nil {
				return nil, (&CompilationError{Violations: []string{
					fmt.Sprintf("node %q: await_input: %v", spec.ID, err),
				}}).AsEngineError()
			}
			cn.AwaitInputCond = cond
		}

		if spec.Kind == KindAgent {
			agent, err := resolver.ResolveAgent(spec.AgentID)
			if err != nil {
				return nil, (&CompilationError{Violations: []string{
					fmt.Sprintf("node %q: resolve agent %q: %v", spec.ID, spec.AgentID, err),
				}}).AsEngineError()
			}
			cn.Agent = &agent

			if agent.OutputSchema != nil {
				resourceURL := "agent-output://" + spec.ID
				c := jsonschema.NewCompiler()
				if err := c.AddResource(resourceURL, agent.OutputSchema); err != nil {
					return nil, (&CompilationError{Violations: []string{
						fmt.Sprintf("node %q: add output_schema resource: %v", spec.ID, err),
					}}).AsEngineError()
				}
				compiled, err := c.Compile(resourceURL)
				if err != nil {
					return nil, (&CompilationError{Violations: []string{
						fmt.Sprintf("node %q: compile output_schema: %v", spec.ID, err),
					}}).AsEngineError()
				}
				cn.OutputSchema = compiled
			}

			tools := make(map[string]ToolDefinition, len(spec.ToolIDs))
			for _, toolID := range spec.ToolIDs {
				tool, err := resolver.ResolveTool(toolID)
				if err != nil {
					return nil, (&CompilationError{Violations: []string{
						fmt.Sprintf("node %q: resolve tool %q: %v", spec.ID, toolID, err),
					}}).AsEngineError()
				}
				tools[toolID] = tool
			}
			cn.Tools = tools
		}

		if spec.Kind == KindSubgraph {
			childDesc, err := resolver.ResolveSubgraph(spec.SubgraphID)
			if err != nil {
				return nil, (&CompilationError{Violations: []string{
					fmt.Sprintf("node %q: resolve subgraph %q: %v", spec.ID, spec.SubgraphID, err),
				}}).AsEngineError()
			}
			child, err := compile(childDesc, resolver, depth+1)
			if err != nil {
				return nil, err
			}
			cn.Subgraph = child
		}

		nodes[spec.ID] = cn
	}

	return &CompiledGraph{
		Nodes:           nodes,
		EntryPoint:      description.EntryPoint,
		StateSchema:     description.StateSchema,
		PropertySchemas: propertySchemas,
		successors:      successors,
		predecessors:    predecessors,
		ParallelJoins:   parallelJoins,
		Warnings:        warnings,
	}, nil
}

// validateStructural implements phase 1: sentinels present (implicitly, via
// the endpoint check below), ids unique, edge endpoints resolve, and the
// per-kind shape rules (spec.md §3 invariants).
func validateStructural(description GraphDescription) []string {
	var violations []string

	seen := make(map[string]bool, len(description.Nodes))
	for _, n := range description.Nodes {
		if n.ID == "" {
			violations = append(violations, "node with empty id")
			continue
		}
		if seen[n.ID] {
			violations = append(violations, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		seen[n.ID] = true
	}

	exists := func(id string) bool {
		return id == StartSentinel || id == EndSentinel || seen[id]
	}

	for i, e := range description.Edges {
		if !exists(e.SourceID) {
			violations = append(violations, fmt.Sprintf("edge[%d]: source %q does not exist", i, e.SourceID))
		}
		if !exists(e.TargetID) {
			violations = append(violations, fmt.Sprintf("edge[%d]: target %q does not exist", i, e.TargetID))
		}
	}

	if description.EntryPoint != "" && !exists(description.EntryPoint) {
		violations = append(violations, fmt.Sprintf("entry_point %q does not exist", description.EntryPoint))
	}

	if len(violations) > 0 {
		// Per-kind shape rules need valid ids/edges to evaluate safely against.
		return violations
	}

	outCount := make(map[string]int)
	inCount := make(map[string]int)
	inSources := make(map[string][]string)
	for _, e := range description.Edges {
		outCount[e.SourceID]++
		inCount[e.TargetID]++
		inSources[e.TargetID] = append(inSources[e.TargetID], e.SourceID)
	}

	for _, n := range description.Nodes {
		switch n.Kind {
		case KindRouter:
			if outCount[n.ID] < 1 {
				violations = append(violations, fmt.Sprintf("router node %q has no outgoing edges", n.ID))
			}
		case KindParallel:
			if outCount[n.ID] < 2 {
				violations = append(violations, fmt.Sprintf("parallel node %q must have at least 2 outgoing edges, has %d", n.ID, outCount[n.ID]))
			}
		case KindJoin:
			if inCount[n.ID] < 2 {
				violations = append(violations, fmt.Sprintf("join node %q must have at least 2 incoming edges, has %d", n.ID, inCount[n.ID]))
			}
			if violation := validateJoinWaitFor(n, inSources[n.ID]); violation != "" {
				violations = append(violations, violation)
			}
		}
	}

	return violations
}

func validateJoinWaitFor(n NodeSpec, predecessors []string) string {
	want := append([]string(nil), n.WaitFor...)
	got := append([]string(nil), predecessors...)
	sort.Strings(want)
	sort.Strings(got)
	if len(want) != len(got) {
		return fmt.Sprintf("join node %q: wait_for %v does not match incoming predecessors %v", n.ID, n.WaitFor, predecessors)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Sprintf("join node %q: wait_for %v does not match incoming predecessors %v", n.ID, n.WaitFor, predecessors)
		}
	}
	return ""
}

func buildAdjacency(description GraphDescription) (successors map[string][]EdgeSpec, predecessors map[string][]string) {
	successors = make(map[string][]EdgeSpec)
	predecessors = make(map[string][]string)
	for _, e := range description.Edges {
		successors[e.SourceID] = append(successors[e.SourceID], e)
		predecessors[e.TargetID] = append(predecessors[e.TargetID], e.SourceID)
	}
	return successors, predecessors
}

// validateReachability implements phase 2: every non-start node should be
// reachable from __start__ and __end__ should be reachable from at least one
// path. Unreachable nodes are reported as warnings, not violations.
func validateReachability(description GraphDescription, successors map[string][]EdgeSpec) []string {
	visited := map[string]bool{StartSentinel: true}
	queue := []string{StartSentinel}
	if description.EntryPoint != "" {
		visited[description.EntryPoint] = true
		queue = append(queue, description.EntryPoint)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range successors[cur] {
			if !visited[e.TargetID] {
				visited[e.TargetID] = true
				queue = append(queue, e.TargetID)
			}
		}
	}

	var warnings []string
	for _, n := range description.Nodes {
		if !visited[n.ID] {
			warnings = append(warnings, fmt.Sprintf("node %q is unreachable from __start__", n.ID))
		}
	}
	if !visited[EndSentinel] {
		warnings = append(warnings, "__end__ is not reachable from any path")
	}
	return warnings
}

// validateCyclePolicy implements phase 3: a cycle is only a compilation
// failure when every edge within it is unconditional — i.e. the cycle
// contains no ROUTER node whose condition could break out of the loop.
func validateCyclePolicy(description GraphDescription, successors map[string][]EdgeSpec) []string {
	kindByID := make(map[string]NodeKind, len(description.Nodes))
	for _, n := range description.Nodes {
		kindByID[n.ID] = n.Kind
	}

	sccs := stronglyConnectedComponents(description, successors)

	var violations []string
	for _, scc := range sccs {
		if len(scc) < 2 && !hasSelfLoop(scc, successors) {
			continue
		}
		hasRouter := false
		for _, id := range scc {
			if kindByID[id] == KindRouter {
				hasRouter = true
				break
			}
		}
		if !hasRouter {
			sort.Strings(scc)
			violations = append(violations, fmt.Sprintf("cycle %v contains only unconditional edges and no router to break out", scc))
		}
	}
	return violations
}

func hasSelfLoop(scc []string, successors map[string][]EdgeSpec) bool {
	if len(scc) != 1 {
		return false
	}
	id := scc[0]
	for _, e := range successors[id] {
		if e.TargetID == id {
			return true
		}
	}
	return false
}

// stronglyConnectedComponents runs Tarjan's algorithm over the node graph
// (sentinels included as trivial terminal nodes with no outgoing edges of
// interest).
func stronglyConnectedComponents(description GraphDescription, successors map[string][]EdgeSpec) [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var sccs [][]string

	var ids []string
	for _, n := range description.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range successors[v] {
			w := e.TargetID
			if w == StartSentinel || w == EndSentinel {
				continue
			}
			if _, ok := indices[w]; !ok {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, id := range ids {
		if _, ok := indices[id]; !ok {
			strongConnect(id)
		}
	}
	return sccs
}

// validateParallelJoinPairing implements phase 4: every PARALLEL node's
// branches must converge on a single join node (its post-dominator), except
// that a branch reaching __end__ directly is permitted (it simply loses
// checkpointing for that branch).
func validateParallelJoinPairing(description GraphDescription, successors map[string][]EdgeSpec) (map[string]string, []string) {
	kindByID := make(map[string]NodeKind, len(description.Nodes))
	for _, n := range description.Nodes {
		kindByID[n.ID] = n.Kind
	}

	result := make(map[string]string)
	var violations []string

	for _, n := range description.Nodes {
		if n.Kind != KindParallel {
			continue
		}

		joinCandidate := ""
		conflicting := false
		for _, e := range successors[n.ID] {
			found, hitEnd := firstJoinOrEnd(e.TargetID, successors, kindByID)
			if hitEnd {
				continue
			}
			if found == "" {
				violations = append(violations, fmt.Sprintf("parallel node %q: branch from %q never reaches a join or __end__", n.ID, e.TargetID))
				continue
			}
			if joinCandidate == "" {
				joinCandidate = found
			} else if joinCandidate != found {
				conflicting = true
			}
		}

		if conflicting {
			violations = append(violations, fmt.Sprintf("parallel node %q: branches converge on more than one join node", n.ID))
		} else if joinCandidate != "" {
			result[n.ID] = joinCandidate
		}
	}

	return result, violations
}

// firstJoinOrEnd walks forward from start looking for the first JOIN node or
// __end__. Returns (joinID, false) on finding a join, ("", true) on reaching
// __end__ first, or ("", false) if neither is reachable (a dead-end branch).
func firstJoinOrEnd(start string, successors map[string][]EdgeSpec, kindByID map[string]NodeKind) (string, bool) {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur == EndSentinel {
			return "", true
		}
		if kindByID[cur] == KindJoin {
			return cur, false
		}
		for _, e := range successors[cur] {
			if !visited[e.TargetID] {
				visited[e.TargetID] = true
				queue = append(queue, e.TargetID)
			}
		}
	}
	return "", false
}

// compileRouterConditions implements phase 5: compiles every edge's
// condition string, synthesizing a trailing "default" route for any ROUTER
// node that declared none, so that a state which matches no explicit
// condition still has somewhere to go rather than stalling the execution.
func compileRouterConditions(description GraphDescription) (conditions map[string][]*CompiledCondition, edgesByNode map[string][]EdgeSpec, violations []string) {
	conditions = make(map[string][]*CompiledCondition)
	edgesByNode = make(map[string][]EdgeSpec)

	edgesBySource := make(map[string][]EdgeSpec)
	for _, e := range description.Edges {
		edgesBySource[e.SourceID] = append(edgesBySource[e.SourceID], e)
	}

	for _, n := range description.Nodes {
		if n.Kind != KindRouter {
			continue
		}
		edges := edgesBySource[n.ID]

		hasDefault := false
		compiled := make([]*CompiledCondition, len(edges))
		for i, e := range edges {
			cc, err := compileCondition(e.Condition)
			if err != nil {
				violations = append(violations, fmt.Sprintf("router %q edge[%d]: %v", n.ID, i, err))
				continue
			}
			compiled[i] = cc
			if cc.IsDefault() {
				hasDefault = true
			}
		}

		if !hasDefault && len(edges) > 0 {
			defaultCC, _ := compileCondition("default")
			compiled = append(compiled, defaultCC)
			edges = append(edges, EdgeSpec{SourceID: n.ID, TargetID: EndSentinel, Condition: "default"})
		}

		conditions[n.ID] = compiled
		edgesByNode[n.ID] = edges
	}

	return conditions, edgesByNode, violations
}

// compilePropertySchemas compiles each state property's raw JSON Schema
// fragment once, at Compile time, and reports the fragments that fail to
// compile.
func compilePropertySchemas(schema StateSchema) (map[string]*jsonschema.Schema, []string) {
	result := make(map[string]*jsonschema.Schema, len(schema.Properties))
	var violations []string

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := schema.Properties[name]
		if prop.Schema == nil {
			continue
		}
		resourceURL := "state://" + name
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceURL, prop.Schema); err != nil {
			violations = append(violations, fmt.Sprintf("property %q: add schema resource: %v", name, err))
			continue
		}
		compiled, err := c.Compile(resourceURL)
		if err != nil {
			violations = append(violations, fmt.Sprintf("property %q: compile schema: %v", name, err))
			continue
		}
		result[name] = compiled
	}

	return result, violations
}

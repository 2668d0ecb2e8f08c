package emit

// Event is one node-lifecycle or execution-lifecycle notification, emitted
// in the order spec.md §4.7 defines: execution_start, then per node
// node_start / (tool_call / tool_result)* / node_complete|node_error,
// with routing_decision after a ROUTER node, finally one of
// execution_complete, execution_failed, execution_cancelled or
// execution_awaiting_input. The producers are Engine.emitWorkflow,
// Engine.emitNode and runContext.emitRoutingDecision (engine.go) and the
// tool-call helpers in agentloop.go; everything else is a consumer via
// Emitter.
type Event struct {
	// RunID is the execution_id this event belongs to.
	RunID string

	// Step is the super-step index the event occurred in. Zero for
	// execution-level events (execution_start/execution_complete/...).
	Step int

	// NodeID is empty for execution-level events, set for node-level ones.
	NodeID string

	// Msg names the event, e.g. "node_start", "tool_call", "node_complete".
	// See SSEEventName (sse.go) for the mapping onto spec.md §6's wire
	// vocabulary.
	Msg string

	// Meta carries event-specific fields: execution_start/execution_complete
	// put "workflow_id"/"thread_id"/"status" here; node_error puts
	// "error_kind"/"detail"; tool_call/tool_result put "tool_id" and
	// either "arguments_digest" or "duration_ms"/"error".
	Meta map[string]interface{}
}

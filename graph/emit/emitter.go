// Package emit publishes the execution_start/node_start/tool_call/... event
// stream spec.md §4.7 defines, and the SSE wire encoding (§6) consumers read
// it as.
package emit

import "context"

// Emitter receives Events as Engine.Run produces them (engine.go's
// emitWorkflow/emitNode, agentloop.go's emitToolCall/emitToolResult).
// Implementations must not block the caller for long and must not panic;
// a slow or failing sink should drop or buffer, not stall the scheduler.
type Emitter interface {
	Emit(event Event)

	// EmitBatch emits events in order as one operation. Implementations
	// that don't benefit from batching may just loop over Emit.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until anything buffered has been handed to the
	// underlying sink. Safe to call more than once.
	Flush(ctx context.Context) error
}

// Package tool defines the Tool interface and the MockTool and HTTPTool
// implementations that an AGENT node's loop (graph.RunAgentLoop) calls by
// name. The registry and invoker (spec.md §4.5) live in graph/registry.go.
package tool

import "context"

// Tool is one callable an AGENT node can bind and invoke. Implementations
// must respect ctx cancellation/deadline and return a structured error
// rather than panicking — graph.Invoke (registry.go) wraps a panicking Call
// into a ToolInvocationError, but a well-behaved tool shouldn't need that.
type Tool interface {
	// Name must match the name the AGENT node's ToolBinding registers it
	// under, which is also the name the model sees in ToolSpec.
	Name() string

	// Call executes the tool against input and returns structured output
	// the agent loop folds back into the transcript as a tool-result
	// message.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

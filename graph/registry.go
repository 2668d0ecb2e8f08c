package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/PIliev24/agent-orchestrator/graph/tool"
)

// ToolBinding pairs a resolved ToolDefinition with its executable implementation
// and compiled argument schema (spec.md §4.5). It is what Resolve hands back to a
// caller that wants to Invoke a tool by id.
type ToolBinding struct {
	Def    ToolDefinition
	Impl   tool.Tool
	Schema *jsonschema.Schema
}

// Registry is the process-wide, append-once-at-startup tool registry (spec.md
// §4.5, §5 "Shared resources": "safe for concurrent reads, no runtime
// mutation"). Register is expected to run during process startup, before any
// execution begins; Resolve and Invoke are read-only from then on and safe for
// concurrent use by many executions at once.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]ToolBinding
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]ToolBinding)}
}

// Register compiles def's JSON Schema once and binds it to impl under def.ID.
// Re-registering an id already present is rejected: the registry is append-once
// per spec.md §9 "Global tool registry... do not expose runtime registration to
// request handlers."
func (r *Registry) Register(def ToolDefinition, impl tool.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[def.ID]; exists {
		return fmt.Errorf("tool %q already registered", def.ID)
	}

	var compiled *jsonschema.Schema
	if def.Schema != nil {
		resourceURL := "tool://" + def.ID
		c := jsonschema.NewCompiler()
		if err := c.AddResource(resourceURL, def.Schema); err != nil {
			return fmt.Errorf("tool %q: add schema resource: %w", def.ID, err)
		}
		s, err := c.Compile(resourceURL)
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", def.ID, err)
		}
		compiled = s
	}

	r.bindings[def.ID] = ToolBinding{Def: def, Impl: impl, Schema: compiled}
	return nil
}

// Resolve returns the binding registered under toolID, or a ToolUnavailable
// ToolInvocationError if none exists.
func (r *Registry) Resolve(toolID string) (ToolBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[toolID]
	if !ok {
		return ToolBinding{}, &ToolInvocationError{Kind: ToolErrUnavailable, ToolID: toolID, Detail: fmt.Sprintf("tool %q is not registered", toolID)}
	}
	return b, nil
}

// ToolErrorKind is the closed set of tool-invocation failure categories that
// are surfaced to the calling agent as structured tool results rather than as
// loop errors (spec.md §4.5).
type ToolErrorKind string

const (
	ToolErrInvalidArguments ToolErrorKind = "InvalidArguments"
	ToolErrTimeout          ToolErrorKind = "ToolTimeout"
	ToolErrUnavailable      ToolErrorKind = "ToolUnavailable"
	ToolErrFailed           ToolErrorKind = "ToolFailed"
)

// ToolInvocationError is the structured failure value returned by Invoke. It
// implements error so callers that want to propagate it as a genuine failure
// (rather than feed it back to the model) still can.
type ToolInvocationError struct {
	Kind   ToolErrorKind
	ToolID string
	Detail string
	Cause  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.ToolID, e.Kind, e.Detail)
}

func (e *ToolInvocationError) Unwrap() error { return e.Cause }

// ToolInvocationResult is the {tool_id, arguments, started_at, finished_at,
// result|error} record embedded into a step's events list (spec.md §3 "Tool
// invocation record").
type ToolInvocationResult struct {
	ToolID     string
	Arguments  map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
	Result     map[string]any
	Err        *ToolInvocationError
}

// Invoke validates arguments against binding's compiled schema, executes the
// underlying tool.Tool under deadline, and categorizes any failure into the
// spec.md §4.5 taxonomy. Invoke never returns a Go error for a tool-level
// failure — that is carried in the returned ToolInvocationResult.Err so the
// agent loop can feed it back to the model as a structured result instead of
// aborting the loop.
func Invoke(ctx context.Context, binding ToolBinding, arguments map[string]any, deadline time.Time) (rec ToolInvocationResult) {
	rec = ToolInvocationResult{
		ToolID:    binding.Def.ID,
		Arguments: arguments,
		StartedAt: invocationClock(),
	}
	defer func() {
		if r := recover(); r != nil {
			rec.Result = nil
			rec.Err = &ToolInvocationError{Kind: ToolErrFailed, ToolID: binding.Def.ID, Detail: fmt.Sprintf("tool panicked: %v", r)}
			rec.FinishedAt = invocationClock()
		}
	}()

	if binding.Schema != nil {
		if err := validateArguments(binding.Schema, arguments); err != nil {
			rec.Err = &ToolInvocationError{Kind: ToolErrInvalidArguments, ToolID: binding.Def.ID, Detail: err.Error(), Cause: err}
			rec.FinishedAt = invocationClock()
			return rec
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if binding.Impl == nil {
		rec.Err = &ToolInvocationError{Kind: ToolErrUnavailable, ToolID: binding.Def.ID, Detail: "tool has no bound implementation"}
		rec.FinishedAt = invocationClock()
		return rec
	}

	result, err := binding.Impl.Call(callCtx, arguments)
	rec.FinishedAt = invocationClock()
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			rec.Err = &ToolInvocationError{Kind: ToolErrTimeout, ToolID: binding.Def.ID, Detail: err.Error(), Cause: err}
		} else {
			rec.Err = &ToolInvocationError{Kind: ToolErrFailed, ToolID: binding.Def.ID, Detail: err.Error(), Cause: err}
		}
		return rec
	}
	rec.Result = result
	return rec
}

// validateArguments round-trips arguments through JSON so the jsonschema
// validator sees the same number/string/bool representation it would see from
// a wire-decoded tool call, regardless of the concrete Go types callers passed.
func validateArguments(schema *jsonschema.Schema, arguments map[string]any) error {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}

// invocationClock isolates the one non-deterministic call in this file so a
// future deterministic-testing seam doesn't need to touch the invocation logic.
func invocationClock() time.Time { return time.Now() }

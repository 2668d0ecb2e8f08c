// Package graph provides the core graph compilation and execution engine for the
// agent orchestrator.
package graph

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of failure categories surfaced by the engine
// (spec.md §7). Every *EngineError and every Fail outcome carries exactly one kind,
// which callers can switch on without parsing messages.
type ErrorKind string

const (
	// ErrCompilation marks a GraphDescription that failed one of the compiler's
	// validation phases. Always produced before execution begins.
	ErrCompilation ErrorKind = "COMPILATION_ERROR"

	// ErrNodeTimeout marks a single node exceeding its per-node timeout.
	ErrNodeTimeout ErrorKind = "NODE_TIMEOUT"

	// ErrExecutionTimeout marks the whole-execution timeout being exceeded.
	ErrExecutionTimeout ErrorKind = "EXECUTION_TIMEOUT"

	// ErrCancelled marks a caller-initiated cancellation via context.
	ErrCancelled ErrorKind = "CANCELLED"

	// ErrTool marks a tool invocation failure surfaced as a structured result to
	// the calling agent's tool loop rather than propagated as an execution error.
	ErrTool ErrorKind = "TOOL_ERROR"

	// ErrToolLoopBudgetExhausted marks an AGENT node's tool loop reaching
	// MAX_ITERATIONS without producing a final answer.
	ErrToolLoopBudgetExhausted ErrorKind = "TOOL_LOOP_BUDGET_EXHAUSTED"

	// ErrSchemaValidation marks a structured-output value that failed JSON
	// Schema validation after the single permitted retry. Tool arguments that
	// fail validation come back as InvalidArguments tool results instead.
	ErrSchemaValidation ErrorKind = "SCHEMA_VALIDATION_ERROR"

	// ErrProvider marks a failure originating from the underlying LLM provider
	// (network, rate limit, non-2xx response).
	ErrProvider ErrorKind = "PROVIDER_ERROR"

	// ErrCheckpoint marks a failure to save or load checkpoint state.
	ErrCheckpoint ErrorKind = "CHECKPOINT_ERROR"
)

// EngineError is the structured error type returned by top-level engine operations
// (Compile, Run). It always carries a Kind from the ErrorKind taxonomy so
// callers can branch on Kind without string matching.
type EngineError struct {
	Kind    ErrorKind
	Message string
	NodeID  string // empty when the error is not attributable to one node
	Cause   error
}

func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, sentinel) match on Kind equality rather than pointer
// identity, so callers can test errors.Is(err, &EngineError{Kind: ErrProvider}).
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// CompilationError reports every validation failure the compiler found in a single
// GraphDescription, rather than stopping at the first one (spec.md §4.1).
type CompilationError struct {
	Violations []string
}

func (e *CompilationError) Error() string {
	if len(e.Violations) == 1 {
		return "graph compilation failed: " + e.Violations[0]
	}
	return fmt.Sprintf("graph compilation failed with %d violations: %v", len(e.Violations), e.Violations)
}

// AsEngineError wraps a CompilationError in the shared EngineError envelope so
// callers that only care about Kind still get ErrCompilation.
func (e *CompilationError) AsEngineError() *EngineError {
	return &EngineError{Kind: ErrCompilation, Message: e.Error(), Cause: e}
}

// Retryable reports whether an error of this kind is ever worth retrying under a
// RetryPolicy. ProviderError is the only kind retried automatically; everything
// else either needs caller intervention (schema, budget, compilation) or is
// already terminal (cancelled).
func (k ErrorKind) Retryable() bool {
	return k == ErrProvider
}

// Engine-wide sentinel errors not tied to one node or one execution, used for
// conditions the scheduler and checkpoint store detect directly.
var (
	// ErrNoProgress indicates the frontier is non-empty but no node in it is
	// runnable and no suspended node is awaiting input: a deadlock.
	ErrNoProgress = errors.New("execution deadlocked: no runnable nodes and no pending suspension")

	// ErrIdempotencyViolation indicates a checkpoint write collided with an
	// existing checkpoint for the same (thread_id, step_index) under a different
	// idempotency key.
	ErrIdempotencyViolation = errors.New("checkpoint idempotency violation")

	// ErrBackpressureTimeout indicates the frontier queue stayed at capacity
	// longer than the configured backpressure timeout.
	ErrBackpressureTimeout = errors.New("frontier queue backpressure timeout exceeded")

	// ErrInvalidRetryPolicy indicates a RetryPolicy failed Validate.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy configuration")

	// ErrThreadNotFound indicates a resume was attempted against a thread_id with
	// no saved checkpoint.
	ErrThreadNotFound = errors.New("no checkpoint found for thread_id")

	// ErrSubgraphDepthExceeded indicates SUBGRAPH nesting exceeded the configured
	// depth limit (default 4, spec.md §5).
	ErrSubgraphDepthExceeded = errors.New("subgraph nesting depth exceeded")
)

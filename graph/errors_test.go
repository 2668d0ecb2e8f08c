package graph

import (
	"errors"
	"testing"
)

func TestErrorKind_Retryable(t *testing.T) {
	if !ErrProvider.Retryable() {
		t.Error("ProviderError should be retryable")
	}
	for _, k := range []ErrorKind{ErrCompilation, ErrNodeTimeout, ErrExecutionTimeout, ErrCancelled, ErrTool, ErrToolLoopBudgetExhausted, ErrSchemaValidation, ErrCheckpoint} {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestEngineError_ErrorString(t *testing.T) {
	withNode := &EngineError{Kind: ErrNodeTimeout, Message: "deadline exceeded", NodeID: "n1"}
	if got, want := withNode.Error(), "NODE_TIMEOUT: node n1: deadline exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	noNode := &EngineError{Kind: ErrCancelled, Message: "context cancelled"}
	if got, want := noNode.Error(), "CANCELLED: context cancelled"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &EngineError{Kind: ErrProvider, Message: "upstream failed", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to unwrap to cause")
	}
}

func TestEngineError_IsMatchesByKind(t *testing.T) {
	a := &EngineError{Kind: ErrProvider, Message: "first failure"}
	b := &EngineError{Kind: ErrProvider, Message: "second failure, different message"}
	c := &EngineError{Kind: ErrCheckpoint, Message: "first failure"}

	if !errors.Is(a, b) {
		t.Error("expected same-kind EngineErrors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected different-kind EngineErrors not to match")
	}
}

func TestCompilationError_ErrorString(t *testing.T) {
	single := &CompilationError{Violations: []string{"entry point node does not exist"}}
	if got, want := single.Error(), "graph compilation failed: entry point node does not exist"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	multi := &CompilationError{Violations: []string{"a", "b"}}
	if got := multi.Error(); got == "" || got == single.Error() {
		t.Errorf("expected distinct multi-violation message, got %q", got)
	}
}

func TestCompilationError_AsEngineError(t *testing.T) {
	ce := &CompilationError{Violations: []string{"missing entry point"}}
	ee := ce.AsEngineError()
	if ee.Kind != ErrCompilation {
		t.Errorf("expected ErrCompilation kind, got %v", ee.Kind)
	}
	if !errors.Is(ee, ce) {
		t.Error("expected AsEngineError to wrap the original CompilationError as Cause")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNoProgress,
		ErrIdempotencyViolation,
		ErrBackpressureTimeout,
		ErrInvalidRetryPolicy,
		ErrThreadNotFound,
		ErrSubgraphDepthExceeded,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %d and %d unexpectedly match: %v / %v", i, j, a, b)
			}
		}
	}
}

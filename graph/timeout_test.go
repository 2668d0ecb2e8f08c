package graph

import (
	"context"
	"testing"
	"time"
)

func TestNodeTimeout_PolicyOverridesDefault(t *testing.T) {
	policy := &NodePolicy{Timeout: 5 * time.Second}
	if got := nodeTimeout(policy, time.Second); got != 5*time.Second {
		t.Errorf("expected policy timeout to win, got %v", got)
	}
}

func TestNodeTimeout_FallsBackToDefault(t *testing.T) {
	if got := nodeTimeout(nil, 2*time.Second); got != 2*time.Second {
		t.Errorf("expected default timeout, got %v", got)
	}
}

func TestNodeTimeout_ZeroMeansUnlimited(t *testing.T) {
	if got := nodeTimeout(nil, 0); got != 0 {
		t.Errorf("expected zero (unlimited), got %v", got)
	}
}

func TestRunWithTimeout_UnlimitedPassesThroughResult(t *testing.T) {
	out := runWithTimeout(context.Background(), "n1", nil, 0, func(ctx context.Context) NodeOutcome {
		return StateUpdateOutcome(State{"ok": true})
	})
	if !out.IsStateUpdate() {
		t.Fatalf("expected state update outcome, got %+v", out)
	}
}

func TestRunWithTimeout_DeadlineForcesFail(t *testing.T) {
	out := runWithTimeout(context.Background(), "slow", nil, 10*time.Millisecond, func(ctx context.Context) NodeOutcome {
		<-ctx.Done()
		return StateUpdateOutcome(State{"should_not_appear": true})
	})
	if !out.IsFail() {
		t.Fatalf("expected fail outcome on timeout, got %+v", out)
	}
	if out.ErrKind != ErrNodeTimeout {
		t.Errorf("expected ErrNodeTimeout, got %v", out.ErrKind)
	}
}

func TestRunWithTimeout_FastFnUnderDeadlineSucceeds(t *testing.T) {
	out := runWithTimeout(context.Background(), "fast", nil, 100*time.Millisecond, func(ctx context.Context) NodeOutcome {
		return StateUpdateOutcome(State{"done": true})
	})
	if !out.IsStateUpdate() {
		t.Fatalf("expected state update, got %+v", out)
	}
}

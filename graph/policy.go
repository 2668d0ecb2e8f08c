package graph

import (
	"math/rand"
	"time"
)

// NodePolicy overrides a node's timeout and retry behavior; unset fields
// fall back to Options' run-wide defaults.
type NodePolicy struct {
	// Timeout overrides Options.DefaultNodeTimeout for this node.
	Timeout time.Duration

	// RetryPolicy enables automatic retry on this node's failures. Unlike a
	// predicate-based policy, which kind of error is retryable at all is
	// fixed by ErrorKind.Retryable() (errors.go), not configured per node:
	// spec.md §7 restricts automatic retry to ErrProvider. RetryPolicy only
	// controls how many attempts and how long to wait between them; it
	// never overrides what runNode (engine.go) decides is worth retrying.
	RetryPolicy *RetryPolicy
}

// RetryPolicy bounds the attempt count and backoff for a node whose
// failures runNode already classified as retryable (outcome.Retryable, set
// via FailOutcome(kind, msg, kind.Retryable()) in executors.go).
type RetryPolicy struct {
	// MaxAttempts is the total attempt count including the first try. 1
	// means no retries.
	MaxAttempts int

	// BaseDelay seeds computeBackoff's exponential growth.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth; 0 means uncapped.
	MaxDelay time.Duration
}

// Validate rejects a RetryPolicy runNode couldn't safely act on: fewer than
// one attempt, or a cap tighter than the base it's supposed to cap.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// computeBackoff returns base*2^attempt (capped at maxDelay) plus jitter in
// [0, base), so concurrent nodes retrying the same failing provider don't
// retry in lockstep. rng nil falls back to the package RNG, which is fine
// outside of a deterministic-replay test.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security-sensitive
	}
	return delay + jitter
}

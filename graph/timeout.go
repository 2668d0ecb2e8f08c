package graph

import (
	"context"
	"fmt"
	"time"
)

// nodeTimeout resolves the effective per-node timeout by precedence: a
// NodePolicy override, else the engine-wide default, else unlimited (spec.md
// §5's nested timeout model: whole-execution > per-node > per-tool-loop-
// iteration > per-tool-call).
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// runWithTimeout executes fn under ctx, bounded by the resolved per-node
// timeout. A timeout of 0 means unlimited: fn still receives ctx so
// whole-execution cancellation still propagates. On deadline exceeded, the
// outcome is forced to a Fail with ErrNodeTimeout regardless of what fn itself
// returned, since fn's own result raced the deadline and cannot be trusted.
func runWithTimeout(ctx context.Context, nodeID string, policy *NodePolicy, defaultTimeout time.Duration, fn func(context.Context) NodeOutcome) NodeOutcome {
	timeout := nodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := fn(timeoutCtx)
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return FailOutcome(ErrNodeTimeout, fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout), false)
	}
	return result
}

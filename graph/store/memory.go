package store

import (
	"sync"
	"time"

	"github.com/PIliev24/agent-orchestrator/graph"
)

// MemoryStore is an in-memory Checkpointer. It is thread-safe, serializes
// writes per thread_id via a per-thread mutex, and is the default store for
// tests and single-process deployments (spec.md §4.6).
type MemoryStore struct {
	mu      sync.Mutex // protects the threads/steps maps themselves, not their contents
	threads map[string]*threadLog
	steps   map[string][]graph.ExecutionStep // keyed by execution_id
}

type threadLog struct {
	mu          sync.Mutex
	checkpoints []*graph.Checkpoint
	seenKeys    map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*threadLog),
		steps:   make(map[string][]graph.ExecutionStep),
	}
}

func (s *MemoryStore) logFor(threadID string) *threadLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.threads[threadID]
	if !ok {
		tl = &threadLog{seenKeys: make(map[string]bool)}
		s.threads[threadID] = tl
	}
	return tl
}

// Save implements graph.Checkpointer. It rejects a checkpoint whose
// idempotency key has already been committed for this thread, per the
// Checkpointer invariant that step_index is strictly increasing and saves are
// atomic per super-step.
func (s *MemoryStore) Save(threadID string, stepIndex int, state graph.State, frontier []graph.WorkItem, joins []graph.JoinLedgerEntry) error {
	tl := s.logFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	key, err := graph.ComputeIdempotencyKey(threadID, stepIndex, frontier, state)
	if err != nil {
		return err
	}
	if tl.seenKeys[key] {
		return graph.ErrIdempotencyViolation
	}

	cp := &graph.Checkpoint{
		ThreadID:       threadID,
		StepIndex:      stepIndex,
		State:          state.Clone(),
		Frontier:       append([]graph.WorkItem(nil), frontier...),
		PendingJoins:   append([]graph.JoinLedgerEntry(nil), joins...),
		Status:         graph.StatusRunning,
		Timestamp:      checkpointTimestamp(),
		IdempotencyKey: key,
	}
	tl.checkpoints = append(tl.checkpoints, cp)
	tl.seenKeys[key] = true
	return nil
}

// Load implements graph.Checkpointer, returning the checkpoint with the
// highest step_index for threadID.
func (s *MemoryStore) Load(threadID string) (*graph.Checkpoint, error) {
	tl := s.logFor(threadID)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if len(tl.checkpoints) == 0 {
		return nil, nil
	}
	latest := tl.checkpoints[0]
	for _, cp := range tl.checkpoints[1:] {
		if cp.StepIndex >= latest.StepIndex {
			latest = cp
		}
	}
	return latest, nil
}

// AppendStep implements graph.Checkpointer.
func (s *MemoryStore) AppendStep(step graph.ExecutionStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.ExecutionID] = append(s.steps[step.ExecutionID], step)
	return nil
}

// Steps returns the recorded execution-step history for executionID, oldest
// first. Exposed for tests and for operators inspecting execution history.
func (s *MemoryStore) Steps(executionID string) []graph.ExecutionStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]graph.ExecutionStep, len(s.steps[executionID]))
	copy(out, s.steps[executionID])
	return out
}

// checkpointTimestamp exists so Save does not call time.Now() directly in a
// way that would complicate deterministic testing; callers needing a fixed
// clock can wrap MemoryStore in a decorator rather than this package growing a
// clock abstraction it otherwise has no use for.
func checkpointTimestamp() time.Time { return time.Now() }

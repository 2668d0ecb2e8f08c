package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// ExecutionStatus is the lifecycle state of one execution record (spec.md §3).
type ExecutionStatus string

const (
	StatusPending       ExecutionStatus = "PENDING"
	StatusRunning       ExecutionStatus = "RUNNING"
	StatusCompleted     ExecutionStatus = "COMPLETED"
	StatusFailed        ExecutionStatus = "FAILED"
	StatusCancelled     ExecutionStatus = "CANCELLED"
	StatusAwaitingInput ExecutionStatus = "AWAITING_INPUT"
)

// ExecutionRecord is the top-level row tracking one run of a compiled graph
// (spec.md §3). It is created at start, mutated by the runtime, and terminal once
// the end sentinel or an unrecoverable failure is reached.
type ExecutionRecord struct {
	ExecutionID         string
	WorkflowID          string
	ThreadID            string
	Status              ExecutionStatus
	CurrentNode         string
	Output              State
	Error               string
	AwaitingInputReason string
}

// ExecutionStep records one node completion within an execution, forming the
// per-step history the Checkpointer persists alongside each super-step's
// checkpoint (spec.md §3).
type ExecutionStep struct {
	ExecutionID       string
	StepIndex         int
	NodeID            string
	StartedAt         time.Time
	FinishedAt        time.Time
	InputStateSnapshot State
	OutputStateDelta  State
	Events            []string
	Error             string
}

// JoinLedgerEntry tracks, for one JOIN node, which of its declared predecessors
// have completed (and whether they failed) within the current execution.
type JoinLedgerEntry struct {
	NodeID    string
	Completed map[string]bool
	Failed    map[string]bool
}

// Checkpoint is the durable snapshot written after every completed super-step:
// `{thread_id, step_index, state, frontier, pending_joins}` (spec.md §3). It is
// the unit the Checkpointer's save/load operations exchange, and the basis of
// Testable Property 3 (checkpoint/resume idempotence).
type Checkpoint struct {
	ThreadID       string            `json:"thread_id"`
	StepIndex      int               `json:"step_index"`
	State          State             `json:"state"`
	Frontier       []WorkItem        `json:"frontier"`
	PendingJoins   []JoinLedgerEntry `json:"pending_joins"`
	Status         ExecutionStatus   `json:"status"`
	Timestamp      time.Time         `json:"timestamp"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// ComputeIdempotencyKey hashes (threadID, stepIndex, sorted frontier, state) into
// a stable "sha256:<hex>" key. Two saves for the same thread/step over the same
// frontier and state — whatever order their contributing deltas arrived in —
// produce the same key, so a retried save is detected as a duplicate rather than
// silently double-committed. Exported so Checkpointer implementations outside
// this package (store.MemoryStore, store.SQLiteStore) can compute it themselves.
func ComputeIdempotencyKey(threadID string, stepIndex int, items []WorkItem, state State) (string, error) {
	h := sha256.New()
	h.Write([]byte(threadID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(stepIndex))
	h.Write(stepBytes)

	sorted := make([]WorkItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderKey < sorted[j].OrderKey })
	for _, item := range sorted {
		h.Write([]byte(item.NodeID))
		keyBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(keyBytes, item.OrderKey)
		h.Write(keyBytes)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Checkpointer is the durable store behind an engine's resume semantics
// (spec.md §4.6). Implementations must serialize saves for a given thread_id
// while allowing different threads to save concurrently, and must never expose a
// partially written checkpoint to a reader.
type Checkpointer interface {
	// Save atomically persists one super-step's checkpoint. step_index must be
	// strictly increasing for a given thread_id.
	Save(threadID string, stepIndex int, state State, frontier []WorkItem, joins []JoinLedgerEntry) error

	// Load returns the newest checkpoint for threadID by step_index, or
	// (nil, nil) if none exists.
	Load(threadID string) (*Checkpoint, error)

	// AppendStep records one ExecutionStep for history/audit purposes. It is not
	// part of the resume path; Load only ever needs the latest Checkpoint.
	AppendStep(step ExecutionStep) error
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/PIliev24/agent-orchestrator/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Checkpointer. It is the durable option for
// single-process deployments that need executions to survive a restart
// (spec.md §4.6); it uses WAL mode so reads don't block on an in-flight write.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path and
// migrates its schema. Pass ":memory:" for an ephemeral database useful in
// tests that still want to exercise the SQL code path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			state TEXT NOT NULL,
			frontier TEXT NOT NULL,
			pending_joins TEXT NOT NULL,
			status TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			timestamp TIMESTAMP NOT NULL,
			UNIQUE(thread_id, step_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, step_index)`,
		`CREATE TABLE IF NOT EXISTS execution_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			input_snapshot TEXT NOT NULL,
			output_delta TEXT NOT NULL,
			events TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON execution_steps(execution_id, step_index)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save implements graph.Checkpointer.
func (s *SQLiteStore) Save(threadID string, stepIndex int, state graph.State, frontier []graph.WorkItem, joins []graph.JoinLedgerEntry) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	key, err := graph.ComputeIdempotencyKey(threadID, stepIndex, frontier, state)
	if err != nil {
		return fmt.Errorf("compute idempotency key: %w", err)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	frontierJSON, err := json.Marshal(frontier)
	if err != nil {
		return fmt.Errorf("marshal frontier: %w", err)
	}
	joinsJSON, err := json.Marshal(joins)
	if err != nil {
		return fmt.Errorf("marshal pending joins: %w", err)
	}

	ctx := context.Background()
	query := `
		INSERT INTO checkpoints (thread_id, step_index, state, frontier, pending_joins, status, idempotency_key, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, step_index) DO UPDATE SET
			state = excluded.state,
			frontier = excluded.frontier,
			pending_joins = excluded.pending_joins,
			status = excluded.status,
			idempotency_key = excluded.idempotency_key,
			timestamp = excluded.timestamp
	`
	_, err = s.db.ExecContext(ctx, query, threadID, stepIndex, string(stateJSON), string(frontierJSON),
		string(joinsJSON), string(graph.StatusRunning), key, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load implements graph.Checkpointer, returning the checkpoint with the
// highest step_index for threadID.
func (s *SQLiteStore) Load(threadID string) (*graph.Checkpoint, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	query := `
		SELECT step_index, state, frontier, pending_joins, status, idempotency_key, timestamp
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY step_index DESC
		LIMIT 1
	`
	var (
		stateJSON, frontierJSON, joinsJSON, statusStr, timestampStr string
		cp                                                          graph.Checkpoint
	)
	row := s.db.QueryRowContext(context.Background(), query, threadID)
	err := row.Scan(&cp.StepIndex, &stateJSON, &frontierJSON, &joinsJSON, &statusStr, &cp.IdempotencyKey, &timestampStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp.ThreadID = threadID
	cp.Status = graph.ExecutionStatus(statusStr)
	if cp.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr); err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(frontierJSON), &cp.Frontier); err != nil {
		return nil, fmt.Errorf("unmarshal frontier: %w", err)
	}
	if err := json.Unmarshal([]byte(joinsJSON), &cp.PendingJoins); err != nil {
		return nil, fmt.Errorf("unmarshal pending joins: %w", err)
	}
	return &cp, nil
}

// AppendStep implements graph.Checkpointer.
func (s *SQLiteStore) AppendStep(step graph.ExecutionStep) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	inputJSON, err := json.Marshal(step.InputStateSnapshot)
	if err != nil {
		return fmt.Errorf("marshal input snapshot: %w", err)
	}
	deltaJSON, err := json.Marshal(step.OutputStateDelta)
	if err != nil {
		return fmt.Errorf("marshal output delta: %w", err)
	}
	eventsJSON, err := json.Marshal(step.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	query := `
		INSERT INTO execution_steps
			(execution_id, step_index, node_id, started_at, finished_at, input_snapshot, output_delta, events, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(context.Background(), query,
		step.ExecutionID, step.StepIndex, step.NodeID,
		step.StartedAt.Format(time.RFC3339Nano), step.FinishedAt.Format(time.RFC3339Nano),
		string(inputJSON), string(deltaJSON), string(eventsJSON), step.Error)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// Close closes the underlying database connection. Safe to call more than
// once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

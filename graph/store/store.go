// Package store provides Checkpointer implementations backing graph execution
// resume (spec.md §4.6): an in-memory store for tests and single-process
// deployments, and a SQLite-backed store for durable, crash-surviving state.
package store

import (
	"errors"

	"github.com/PIliev24/agent-orchestrator/graph"
)

// ErrNotFound is a generic not-found sentinel. Neither store returns it from
// Load: a thread_id with no checkpoint yields (nil, nil).
var ErrNotFound = errors.New("not found")

// Both concrete stores in this package implement graph.Checkpointer; this line
// documents that contract at compile time without exporting a redundant alias.
var (
	_ graph.Checkpointer = (*MemoryStore)(nil)
	_ graph.Checkpointer = (*SQLiteStore)(nil)
)

package graph

import (
	"fmt"
	"sort"
)

// NewJoinLedgerEntry starts tracking one JOIN node's predecessors.
func NewJoinLedgerEntry(nodeID string) *JoinLedgerEntry {
	return &JoinLedgerEntry{
		NodeID:    nodeID,
		Completed: make(map[string]bool),
		Failed:    make(map[string]bool),
	}
}

// MarkCompleted records that predecessorID finished (successfully or not).
// A predecessor is recorded at most once; a second report for the same id is
// a no-op, since the scheduler only advances a node to completion once.
func (e *JoinLedgerEntry) MarkCompleted(predecessorID string, failed bool) {
	if e.Completed[predecessorID] {
		return
	}
	e.Completed[predecessorID] = true
	if failed {
		e.Failed[predecessorID] = true
	}
}

// IsReady reports whether every predecessor in waitFor has completed.
func (e *JoinLedgerEntry) IsReady(waitFor []string) bool {
	for _, id := range waitFor {
		if !e.Completed[id] {
			return false
		}
	}
	return true
}

// ShouldFail applies a JOIN node's failure policy against its ledger once
// IsReady is true (spec.md §4.2 JOIN executor). `any` fails on a single
// failed predecessor; `majority` fails when more than half failed;
// `all_required` fails only when every predecessor failed.
func (e *JoinLedgerEntry) ShouldFail(policy JoinFailurePolicy, waitFor []string) bool {
	failedCount := 0
	for _, id := range waitFor {
		if e.Failed[id] {
			failedCount++
		}
	}
	if failedCount == 0 {
		return false
	}

	switch policy {
	case FailMajority:
		return failedCount*2 > len(waitFor)
	case FailAllRequired:
		return failedCount == len(waitFor)
	case FailAny:
		return true
	default:
		return true
	}
}

// Aggregate synthesizes a JOIN node's final delta from its predecessors'
// per-node deltas, applying the node's aggregation_strategy. Deltas are
// consumed in lexicographic node-id order so the result does not depend on
// the predecessors' completion order (the same determinism guarantee the
// merger gives ordinary concurrent state updates).
func Aggregate(strategy AggregationStrategy, aggField string, deltasByNode map[string]State) (State, error) {
	ids := make([]string, 0, len(deltasByNode))
	for id := range deltasByNode {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	switch strategy {
	case AggMergeObject:
		merged := State{}
		for _, id := range ids {
			for k, v := range deltasByNode[id] {
				merged[k] = v
			}
		}
		if aggField == "" {
			return merged, nil
		}
		return State{aggField: merged}, nil

	case AggAppendList:
		if aggField == "" {
			return nil, fmt.Errorf("append_list aggregation requires a non-empty agg_field")
		}
		list := make([]any, 0, len(ids))
		for _, id := range ids {
			delta := deltasByNode[id]
			if v, ok := delta[aggField]; ok {
				list = append(list, v)
			} else {
				list = append(list, map[string]any(delta))
			}
		}
		return State{aggField: list}, nil

	default:
		return nil, fmt.Errorf("unknown aggregation strategy %q", strategy)
	}
}

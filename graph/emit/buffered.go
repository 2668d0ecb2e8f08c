package emit

import (
	"context"
	"sync"
)

// BufferedEmitter keeps every event in memory, grouped by RunID, so a
// finished (or mid-flight) execution's full event history can be queried
// after the fact. This is the durable half of spec.md §4.7's event bus: the
// live half (bounded, single-subscriber, drops on disconnect) is SSEEmitter
// in sse.go, and MultiEmitter (multi.go) composes the two so an execution
// gets both without Engine.Run knowing the difference.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter narrows GetHistoryWithFilter; zero-value fields are
// unfiltered, non-zero fields combine with AND.
type HistoryFilter struct {
	NodeID  string
	Msg     string
	MinStep *int
	MaxStep *int
}

func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range events {
		b.events[event.RunID] = append(b.events[event.RunID], event)
	}
	return nil
}

func (b *BufferedEmitter) Flush(_ context.Context) error { return nil }

// GetHistory returns a copy of everything recorded for runID, in emission
// order; the ordering property spec.md §8's S8 checks against.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events[runID] {
		if b.matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	if result == nil {
		return []Event{}
	}
	return result
}

func (b *BufferedEmitter) matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear drops history for runID, or for every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}

package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// SSEEventName maps an Event's Msg onto the wire event name spec.md §6's SSE
// stream uses. Engine.Run and agentloop.go already emit the exact names the
// stream is documented with (execution_start, node_start, tool_call,
// tool_result, node_complete, node_error, execution_complete,
// execution_cancelled, plus the terminal variants statusEventName produces
// and the ROUTER-only routing_decision), so this is presently the identity
// function — it exists as the one seam a future rename would go through
// instead of every emitter touching Event.Msg directly.
func SSEEventName(msg string) string {
	return msg
}

// Encode writes one Event to w in the wire format spec.md §6 specifies:
//
//	event: <name>\n
//	data: <JSON>\n
//	\n
//
// data is {"run_id","step","node_id","meta"}; Msg is carried only in the
// event: line since the SSE spec already names it there.
func Encode(w io.Writer, ev Event) error {
	payload := struct {
		RunID  string                 `json:"run_id"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"node_id,omitempty"`
		Meta   map[string]interface{} `json:"meta,omitempty"`
	}{RunID: ev.RunID, Step: ev.Step, NodeID: ev.NodeID, Meta: ev.Meta}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sse event %q: %w", ev.Msg, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", SSEEventName(ev.Msg), data)
	return err
}

// sseSubscription is one execution's live, bounded event channel.
type sseSubscription struct {
	ch chan Event
}

// SSEEmitter is the live half of spec.md §4.7's event bus: at most one
// subscriber per execution, a bounded channel so a slow consumer can't stall
// the scheduler, and events dropped (not queued) once that bound is hit or
// once the subscriber has disconnected. History survives regardless, since
// SSEEmitter is meant to run alongside BufferedEmitter via MultiEmitter
// (multi.go), never alone.
type SSEEmitter struct {
	mu      sync.Mutex
	subs    map[string]*sseSubscription
	bufSize int
}

// NewSSEEmitter creates an emitter whose per-execution channel holds at most
// bufSize pending events before Emit starts dropping.
func NewSSEEmitter(bufSize int) *SSEEmitter {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &SSEEmitter{subs: make(map[string]*sseSubscription), bufSize: bufSize}
}

// Subscribe registers the sole live subscriber for runID, replacing (and
// closing) any previous one, and returns the event channel plus an
// unsubscribe func the caller must defer. Once unsubscribed, further Emit
// calls for runID are silently dropped until a new Subscribe.
func (s *SSEEmitter) Subscribe(runID string) (<-chan Event, func()) {
	s.mu.Lock()
	if old, ok := s.subs[runID]; ok {
		close(old.ch)
	}
	sub := &sseSubscription{ch: make(chan Event, s.bufSize)}
	s.subs[runID] = sub
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subs[runID] == sub {
			delete(s.subs, runID)
			close(sub.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Emit delivers event to runID's live subscriber, if any, dropping it
// without blocking when the subscriber isn't keeping up.
func (s *SSEEmitter) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[event.RunID]
	if !ok {
		return
	}
	select {
	case sub.ch <- event:
	default:
	}
}

func (s *SSEEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		s.Emit(event)
	}
	return nil
}

// Flush is a no-op: SSEEmitter holds no buffer beyond the per-subscriber
// channel, which Subscribe/unsubscribe already own the lifecycle of.
func (s *SSEEmitter) Flush(_ context.Context) error { return nil }

// WriteTo subscribes to runID and Encodes every delivered Event to w until
// ctx is cancelled or the subscription is closed (the execution finished and
// something else unsubscribed it, or a new Subscribe pre-empted this one).
// This is the body an HTTP SSE handler hands its ResponseWriter to.
func (s *SSEEmitter) WriteTo(ctx context.Context, w io.Writer, runID string) error {
	ch, unsubscribe := s.Subscribe(runID)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := Encode(w, ev); err != nil {
				return err
			}
			if f, ok := w.(interface{ Flush() }); ok {
				f.Flush()
			}
		}
	}
}

package emit

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// MultiEmitter fans one Event out to every configured sink, so Engine.Run
// only ever holds a single Emitter (the one passed to graph.New) regardless of how many
// observability backends a deployment wants live at once.
type MultiEmitter struct {
	sinks []Emitter
}

// NewMultiEmitter fans out to sinks in order. A nil entry is skipped rather
// than panicking, so callers can pass an optional sink (e.g. tracing) behind
// a feature flag without branching at the call site.
func NewMultiEmitter(sinks ...Emitter) *MultiEmitter {
	filtered := make([]Emitter, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiEmitter{sinks: filtered}
}

func (m *MultiEmitter) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}

func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.EmitBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiEmitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewDefaultObservabilityEmitter composes the three facets a production
// deployment of this engine needs from the one emitter graph.New takes: durable
// post-execution history (BufferedEmitter, for a run-inspection API built
// over GetHistory), a live per-execution SSE feed (SSEEmitter, backing the
// streaming handler sse.go's WriteTo implements), and distributed tracing
// (OTelEmitter) when tracer is non-nil. A nil tracer — no TracerProvider
// configured — omits the tracing sink rather than forcing the caller to
// build a no-op one.
func NewDefaultObservabilityEmitter(tracer trace.Tracer, sseBufSize int) *MultiEmitter {
	if tracer == nil {
		return NewMultiEmitter(NewBufferedEmitter(), NewSSEEmitter(sseBufSize))
	}
	return NewMultiEmitter(NewBufferedEmitter(), NewSSEEmitter(sseBufSize), NewOTelEmitter(tracer))
}

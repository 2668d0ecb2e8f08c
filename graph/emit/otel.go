package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into a single already-ended span: Msg is the
// span name, RunID/Step/NodeID and Meta become attributes under the
// "agentorch." prefix, and a Meta["error"] string marks the span failed.
// Events are points in time, not durations, so the span opens and closes
// immediately rather than being held across a node's execution.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter wraps tracer, typically otel.Tracer("agent-orchestrator").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)
	o.addConcurrencyAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)
		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)
		o.addConcurrencyAttributes(span, event.Meta)
		if err, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, err)
			span.RecordError(fmt.Errorf("%s", err))
		}
		span.End()
	}
	return nil
}

// Flush force-flushes the global TracerProvider, if it supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("agentorch.run_id", event.RunID),
		attribute.Int("agentorch.step", event.Step),
		attribute.String("agentorch.node_id", event.NodeID),
	)
}

// agentorchAttrKey maps a handful of Meta keys onto the agentorch.* span
// attribute convention; everything else is set with its own key.
func agentorchAttrKey(key string) string {
	switch key {
	case "tokens_in":
		return "agentorch.llm.tokens_in"
	case "tokens_out":
		return "agentorch.llm.tokens_out"
	case "cost_usd":
		return "agentorch.llm.cost_usd"
	case "latency_ms":
		return "agentorch.node.latency_ms"
	case "model":
		return "agentorch.llm.model"
	default:
		return key
	}
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		if key == "step_id" || key == "order_key" || key == "attempt" {
			continue
		}
		attrKey := agentorchAttrKey(key)

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}

// addConcurrencyAttributes copies the optional step_id, order_key and attempt
// Meta entries onto span as agentorch.* attributes when an event carries
// them. The engine's own events do not set these keys.
func (o *OTelEmitter) addConcurrencyAttributes(span trace.Span, meta map[string]interface{}) {
	if stepID, ok := meta["step_id"].(string); ok {
		span.SetAttributes(attribute.String("agentorch.step_id", stepID))
	}
	if orderKey, ok := meta["order_key"].(string); ok {
		span.SetAttributes(attribute.String("agentorch.order_key", orderKey))
	}
	if attempt, ok := meta["attempt"].(int); ok {
		span.SetAttributes(attribute.Int("agentorch.attempt", attempt))
	} else if attempt, ok := meta["attempt"].(int64); ok {
		span.SetAttributes(attribute.Int64("agentorch.attempt", attempt))
	}
}

package emit

import "context"

// NullEmitter discards every event. Used when graph.New is given a nil emitter.
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(event Event) {}

func (n *NullEmitter) EmitBatch(_ context.Context, events []Event) error { return nil }

func (n *NullEmitter) Flush(_ context.Context) error { return nil }

package events

import "safedeal/core/types"

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Convertible events know how to render themselves as a wire event.
type Convertible interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a single execution so they can be
// published only if the execution commits.
type Buffer struct {
	events []*types.Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	if conv, ok := evt.(Convertible); ok {
		if rendered := conv.Event(); rendered != nil {
			b.events = append(b.events, rendered)
		}
		return
	}
	b.events = append(b.events, &types.Event{Type: evt.EventType(), Attributes: map[string]string{}})
}

// Mark returns the current buffer position.
func (b *Buffer) Mark() int { return len(b.events) }

// Truncate drops every event recorded after mark.
func (b *Buffer) Truncate(mark int) {
	if mark >= 0 && mark <= len(b.events) {
		b.events = b.events[:mark]
	}
}

// Events returns the buffered events.
func (b *Buffer) Events() []*types.Event {
	out := make([]*types.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Reset clears the buffer.
func (b *Buffer) Reset() { b.events = b.events[:0] }

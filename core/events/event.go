package events

// Record is the wire shape of an event.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Convertible is implemented by events that render to the wire shape.
type Convertible interface {
	Event
	Event() *Record
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

// Buffer collects events until they are flushed to another emitter. Events
// raised by a call that later fails are dropped with Reset.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	b.events = append(b.events, evt)
}

// Events returns the buffered events.
func (b *Buffer) Events() []Event {
	return append([]Event(nil), b.events...)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Truncate drops every event buffered after the first n.
func (b *Buffer) Truncate(n int) {
	if n < len(b.events) {
		b.events = b.events[:n]
	}
}

// FlushTo forwards the buffered events in order and empties the buffer.
func (b *Buffer) FlushTo(dst Emitter) {
	if dst != nil {
		for _, evt := range b.events {
			dst.Emit(evt)
		}
	}
	b.events = nil
}

// Recorder keeps every emitted event in wire form. The node uses it to expose
// the events of the last executed transaction.
type Recorder struct {
	events []*Record
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if conv, ok := evt.(Convertible); ok {
		r.events = append(r.events, conv.Event())
		return
	}
	r.events = append(r.events, &Record{Type: evt.EventType(), Attributes: map[string]string{}})
}

// Drain returns and clears the recorded events.
func (r *Recorder) Drain() []*Record {
	out := r.events
	r.events = nil
	return out
}

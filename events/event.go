package events

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

// Emitter broadcasts events to downstream subscribers (logs, metrics).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default when a component does not wire a subscriber.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans a single event out to several subscribers in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(e Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}

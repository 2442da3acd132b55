package graph

type EventType string

const (
	EventBlockAdded        EventType = "block_added"
	EventBlockChanged      EventType = "block_changed"
	EventBlockRemoved      EventType = "block_removed"
	EventPortAdded         EventType = "port_added"
	EventPortChanged       EventType = "port_changed"
	EventPortRemoved       EventType = "port_removed"
	EventConnectionAdded   EventType = "connection_added"
	EventConnectionRemoved EventType = "connection_removed"
)

// Event describes one structural or display change of the store.
// Only the field matching the event type is set.
type Event struct {
	Type       EventType   `json:"type"`
	Block      *Block      `json:"block,omitempty"`
	Port       *Port       `json:"port,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
}

// Notifier receives store events. Implementations must not block and must
// not call back into the store.
type Notifier interface {
	Notify(ev Event)
}

type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Fanout forwards every event to all of its notifiers in order.
type Fanout []Notifier

func (f Fanout) Notify(ev Event) {
	for _, n := range f {
		n.Notify(ev)
	}
}

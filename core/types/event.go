package types

import (
	"strings"
)

// Attribute is a single key/value pair of an event. Attribute order is part of
// the chain's event semantics and is preserved.
type Attribute struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Event represents a typed event emitted during message execution.
type Event struct {
	Type       string      `json:"type" yaml:"type"`
	Attributes []Attribute `json:"attributes" yaml:"attributes"`
}

// NewEvent builds an event from alternating key/value pairs.
func NewEvent(typ string, kv ...string) Event {
	ev := Event{Type: typ}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, Attribute{Key: kv[i], Value: kv[i+1]})
	}
	return ev
}

// Get returns the first attribute value stored under key.
func (e Event) Get(key string) (string, bool) {
	for _, attr := range e.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// Events is an ordered event log.
type Events []Event

// OfType returns the events matching typ in emission order.
func (es Events) OfType(typ string) Events {
	var out Events
	for _, ev := range es {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Find returns the first event of typ carrying key=value.
func (es Events) Find(typ, key, value string) (Event, bool) {
	for _, ev := range es {
		if ev.Type != typ {
			continue
		}
		if got, ok := ev.Get(key); ok && got == value {
			return ev, true
		}
	}
	return Event{}, false
}

// String renders the log in a stable single-line form used for digests.
func (es Events) String() string {
	var b strings.Builder
	for i, ev := range es {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(ev.Type)
		for _, attr := range ev.Attributes {
			b.WriteByte('|')
			b.WriteString(attr.Key)
			b.WriteByte('=')
			b.WriteString(attr.Value)
		}
	}
	return b.String()
}

package events

import (
	"time"
)

// Well-known event domains.
const (
	DomainDevice  = "device"
	DomainProgram = "program"
	DomainBroker  = "broker"
)

// ChannelAll is the channel every event is delivered on.
const ChannelAll = "events"

// Event is a single property change.
type Event struct {
	Domain    string    `json:"domain"`
	Source    string    `json:"source"`
	Property  string    `json:"property"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped now.
func New(domain, source, property string, value any) Event {
	return Event{
		Domain:    domain,
		Source:    source,
		Property:  property,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// Channel is the domain-specific channel for e, e.g. "program.changed".
func (e Event) Channel() string {
	return e.Domain + ".changed"
}

package events

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// statePayload is what bridges publish on graylogic/state/{protocol}/{address}.
type statePayload struct {
	DeviceID  string         `json:"device_id"`
	State     map[string]any `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// StateRelay turns bridge state messages into device events.
type StateRelay struct {
	bus    *Bus
	topics mqtt.Topics
	logger Logger
}

// NewStateRelay creates a relay publishing on bus.
func NewStateRelay(bus *Bus) *StateRelay {
	return &StateRelay{bus: bus, logger: noopLogger{}}
}

// SetLogger sets the relay's logger.
func (r *StateRelay) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	r.logger = l
}

// Topic is the subscription pattern the relay expects to be fed from.
func (r *StateRelay) Topic() string {
	return r.topics.AllBridgeStates()
}

// Handle converts one message into an event per state property. It
// reports whether topic is a bridge state topic; malformed payloads on such
// topics are logged and dropped.
func (r *StateRelay) Handle(topic, payload string) bool {
	protocol, address, ok := r.topics.ParseBridgeState(topic)
	if !ok {
		return false
	}

	var msg statePayload
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("failed to parse state message", "topic", topic, "error", err)
		return true
	}

	source := msg.DeviceID
	if source == "" {
		source = protocol + "/" + address
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	for _, property := range slices.Sorted(maps.Keys(msg.State)) {
		r.bus.Publish(Event{
			Domain:    DomainDevice,
			Source:    source,
			Property:  property,
			Value:     msg.State[property],
			Timestamp: ts,
		})
	}
	r.logger.Debug("relayed device state", "source", source, "properties", len(msg.State))
	return true
}

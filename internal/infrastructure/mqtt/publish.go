package mqtt

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message without waiting for acknowledgement.
//
// Messaging is best-effort: when the client has no live session (not yet
// connected, reconnecting or disconnected) the message is dropped. Invalid
// topics, QoS levels and oversized payloads are dropped and logged. Publish
// never blocks on the broker and never returns an error.
//
// Example:
//
//	topic := mqtt.Topics{}.BridgeCommand("knx", "light-living")
//	client.Publish(topic, []byte(`{"on":true}`), mqtt.AtLeastOnce, false)
func (c *PersistentClient) Publish(topic string, payload []byte, qos QoS, retain bool) {
	switch {
	case topic == "":
		c.getLogger().Warn("mqtt publish dropped", "reason", ErrInvalidTopic.Error())
		return
	case !qos.Valid():
		c.getLogger().Warn("mqtt publish dropped", "topic", topic, "reason", ErrInvalidQoS.Error())
		return
	case len(payload) > maxPayloadSize:
		c.getLogger().Warn("mqtt publish dropped", "topic", topic, "size", len(payload), "max", maxPayloadSize)
		return
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		c.getLogger().Debug("mqtt publish dropped", "topic", topic, "reason", "no session")
		return
	}
	t.Publish(topic, qos, retain, payload)
}

// PublishString is a convenience method that publishes a string payload.
func (c *PersistentClient) PublishString(topic, payload string, qos QoS, retain bool) {
	c.Publish(topic, []byte(payload), qos, retain)
}

package mqtt

import (
	"strings"
	"unicode/utf8"
)

// Subscribe registers topic in the subscription registry and, when the
// client is Connected, subscribes on the live session as well. Otherwise
// the broker subscription is made on the next connect.
//
// Subscribing to a topic that is already registered replaces its QoS; the
// registry never holds the same topic twice.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "graylogic/state/+/+" matches any protocol and device
//   - # (multi-level): "graylogic/#" matches all Gray Logic topics
//
// Returns:
//   - error: ErrInvalidTopic or ErrInvalidQoS; broker-side failures are logged
func (c *PersistentClient) Subscribe(topic string, qos QoS) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !qos.Valid() {
		return ErrInvalidQoS
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs.put(topic, qos)
	if c.state == Connected && c.transport != nil {
		if err := c.transport.Subscribe(topic, qos); err != nil {
			c.getLogger().Warn("mqtt subscribe failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Unsubscribe removes topic from the registry and, when Connected, from the
// live session. Unknown topics are ignored.
func (c *PersistentClient) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.subs.remove(topic) {
		return nil
	}
	if c.state == Connected && c.transport != nil {
		if err := c.transport.Unsubscribe(topic); err != nil {
			c.getLogger().Warn("mqtt unsubscribe failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Subscriptions returns the registry contents in replay order.
func (c *PersistentClient) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs.list()
}

// SubscriptionCount returns the number of registered subscriptions.
func (c *PersistentClient) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs.len()
}

// HasSubscription checks if the exact topic string is registered.
func (c *PersistentClient) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs.get(topic)
	return ok
}

// deliver hands an inbound message from attempt gen to the handler.
// Messages from an abandoned session are dropped.
func (c *PersistentClient) deliver(gen uint64, topic string, payload []byte) {
	if c.gen.Load() != gen {
		return
	}

	c.handlerMu.RLock()
	handler := c.onMessage
	c.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	text := string(payload)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	handler(topic, text)
}

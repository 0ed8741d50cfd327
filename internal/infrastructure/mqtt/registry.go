package mqtt

// subscriptionRegistry is the ordered set of subscriptions a client replays
// after every connect. Topics are unique; a repeated put replaces the QoS of
// the existing entry in place so replay order stays the order of first
// registration.
//
// The registry holds no lock of its own. PersistentClient guards it with its
// state mutex, which also covers replay iteration.
type subscriptionRegistry struct {
	entries []Subscription
	index   map[string]int
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{index: make(map[string]int)}
}

// put adds topic or updates its QoS.
func (r *subscriptionRegistry) put(topic string, qos QoS) {
	if i, ok := r.index[topic]; ok {
		r.entries[i].QoS = qos
		return
	}
	r.index[topic] = len(r.entries)
	r.entries = append(r.entries, Subscription{Topic: topic, QoS: qos})
}

// remove deletes topic and reports whether it was present.
func (r *subscriptionRegistry) remove(topic string) bool {
	i, ok := r.index[topic]
	if !ok {
		return false
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	delete(r.index, topic)
	for j := i; j < len(r.entries); j++ {
		r.index[r.entries[j].Topic] = j
	}
	return true
}

func (r *subscriptionRegistry) get(topic string) (Subscription, bool) {
	i, ok := r.index[topic]
	if !ok {
		return Subscription{}, false
	}
	return r.entries[i], true
}

// list returns a copy of the entries in registration order.
func (r *subscriptionRegistry) list() []Subscription {
	out := make([]Subscription, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *subscriptionRegistry) len() int {
	return len(r.entries)
}

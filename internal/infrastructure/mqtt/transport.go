package mqtt

// Transport is a single broker connection attempt and, once Connect
// succeeds, the live session it produced. A Transport is never reconnected;
// PersistentClient dials a fresh one for every attempt.
//
// Subscribe, Unsubscribe and Publish must not wait for broker
// acknowledgement. The client calls them while holding its state lock.
type Transport interface {
	// Connect blocks until the session is established or the attempt fails.
	Connect() error

	// Disconnect closes the session. It must not invoke OnConnectionLost.
	Disconnect()

	Subscribe(topic string, qos QoS) error
	Unsubscribe(topic string) error
	Publish(topic string, qos QoS, retain bool, payload []byte)
}

// TransportOptions carries everything a Transport needs to dial.
type TransportOptions struct {
	Endpoint Endpoint
	Will     *Will
	Logger   Logger
}

// TransportHandlers are the callbacks a Transport reports into.
type TransportHandlers struct {
	// OnConnectionLost is invoked at most once, after a successful Connect,
	// when the session drops. A nil error or ErrClosedGracefully means the
	// peer closed the session on purpose.
	OnConnectionLost func(err error)

	// OnMessage is invoked for every inbound publish.
	OnMessage func(topic string, payload []byte)
}

// Dialer creates a Transport for one connection attempt.
type Dialer func(opts TransportOptions, handlers TransportHandlers) Transport

// Will is a Last Will and Testament registered with the broker at connect.
type Will struct {
	Topic   string
	Payload string
	QoS     QoS
	Retain  bool
}

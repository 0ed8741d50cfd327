package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReconnectDelay is the fixed wait between an unexpected drop and the
// next connection attempt.
const DefaultReconnectDelay = 5 * time.Second

// PersistentClient keeps one logical session with an MQTT broker alive.
//
// The endpoint is configured with SetService and friends; Connect starts the
// state machine. After an unexpected drop the client waits a fixed delay and
// dials again, indefinitely, until Disconnect is called. Every (re)connect
// replays the subscription registry before the client reports Connected.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - State, endpoint, transport and the registry share one mutex.
//   - Message delivery does not take that mutex.
type PersistentClient struct {
	mu          sync.Mutex
	endpoint    Endpoint
	presence    string // status topic, empty when presence is off
	state       ConnectionState
	transport   Transport
	subs        *subscriptionRegistry
	cancelRetry context.CancelFunc

	// gen identifies the current connection attempt. Written under mu,
	// read without it by message delivery.
	gen atomic.Uint64

	delay time.Duration
	dial  Dialer
	after func(time.Duration) <-chan time.Time

	onMessage MessageHandler
	handlerMu sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Option configures a PersistentClient at construction.
type Option func(*PersistentClient)

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *PersistentClient) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithDialer replaces the paho transport.
func WithDialer(d Dialer) Option {
	return func(c *PersistentClient) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithPresence publishes retained online/offline status on topic and
// registers a matching Last Will with the broker.
func WithPresence(topic string) Option {
	return func(c *PersistentClient) {
		c.presence = topic
	}
}

// NewPersistentClient creates a client in the Disconnected state.
func NewPersistentClient(opts ...Option) *PersistentClient {
	c := &PersistentClient{
		endpoint: Endpoint{Port: DefaultPort},
		subs:     newSubscriptionRegistry(),
		delay:    DefaultReconnectDelay,
		dial:     DialPaho,
		after:    time.After,
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetService sets the broker address, port, client ID and message handler.
// A port of 0 selects DefaultPort. If the client is not Disconnected the
// change is applied by a full disconnect and reconnect.
func (c *PersistentClient) SetService(address string, port int, clientID string, onMessage MessageHandler) {
	if port <= 0 {
		port = DefaultPort
	}

	c.handlerMu.Lock()
	c.onMessage = onMessage
	c.handlerMu.Unlock()

	c.mu.Lock()
	c.endpoint.Address = address
	c.endpoint.Port = port
	c.endpoint.ClientID = clientID
	active := c.state != Disconnected
	c.mu.Unlock()

	if active {
		c.Disconnect()
		if err := c.Connect(); err != nil {
			c.getLogger().Warn("mqtt reconnect after reconfiguration failed", "error", err)
		}
	}
}

// SetMessageHandler replaces the inbound message handler without touching
// the endpoint or the connection.
func (c *PersistentClient) SetMessageHandler(onMessage MessageHandler) {
	c.handlerMu.Lock()
	c.onMessage = onMessage
	c.handlerMu.Unlock()
}

// UsingWebSockets selects the WebSocket transport (ws://host:port/mqtt).
// It takes effect on the next Connect.
func (c *PersistentClient) UsingWebSockets(enabled bool) *PersistentClient {
	c.mu.Lock()
	c.endpoint.WebSocket = enabled
	c.mu.Unlock()
	return c
}

// UsingTLS enables TLS on the next Connect.
func (c *PersistentClient) UsingTLS(enabled bool) *PersistentClient {
	c.mu.Lock()
	c.endpoint.TLS = enabled
	c.mu.Unlock()
	return c
}

// WithCredentials sets the username and password used on the next Connect.
func (c *PersistentClient) WithCredentials(username, password string) *PersistentClient {
	c.mu.Lock()
	c.endpoint.Username = username
	c.endpoint.Password = password
	c.mu.Unlock()
	return c
}

// Reset disconnects and returns the endpoint and credentials to defaults.
// Registered subscriptions and the message handler are kept.
func (c *PersistentClient) Reset() {
	c.Disconnect()

	c.mu.Lock()
	c.endpoint = Endpoint{Port: DefaultPort}
	c.mu.Unlock()
}

// Endpoint returns a copy of the configured endpoint.
func (c *PersistentClient) Endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// State returns the current connection state.
func (c *PersistentClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the state is Connected.
func (c *PersistentClient) IsConnected() bool {
	return c.State() == Connected
}

// Connect starts the state machine. It returns immediately; the attempt and
// any retries run in the background. Calling Connect in any state other
// than Disconnected does nothing.
//
// Returns:
//   - error: ErrNoEndpoint if SetService has not provided an address
func (c *PersistentClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return nil
	}
	if c.endpoint.Address == "" {
		return ErrNoEndpoint
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelRetry = cancel

	gen := c.beginAttemptLocked()
	go c.attempt(ctx, gen)
	return nil
}

// Disconnect closes the session, cancels any pending retry and leaves the
// client Disconnected. An attempt that completes afterwards is discarded.
func (c *PersistentClient) Disconnect() {
	c.mu.Lock()
	c.gen.Add(1)
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	t := c.transport
	c.transport = nil
	prev := c.state
	c.state = Disconnected
	clientID := c.endpoint.ClientID
	presence := c.presence
	c.mu.Unlock()

	if t == nil {
		if prev != Disconnected {
			c.getLogger().Info("mqtt connection cancelled", "state", prev.String())
		}
		return
	}

	if presence != "" {
		t.Publish(presence, AtLeastOnce, true, []byte(buildOfflinePayload(clientID)))
	}
	t.Disconnect()
	c.getLogger().Info("mqtt disconnected", "client_id", clientID)
}

// HealthCheck verifies the client is Connected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *PersistentClient) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if state := c.State(); state != Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, state)
	}
	return nil
}

// SetOnConnect sets a callback invoked after every successful (re)connect,
// once subscriptions have been replayed.
func (c *PersistentClient) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when an established session drops.
// It is not called for Disconnect.
func (c *PersistentClient) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events and handler panics.
func (c *PersistentClient) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *PersistentClient) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// beginAttemptLocked moves to Connecting under a fresh generation.
func (c *PersistentClient) beginAttemptLocked() uint64 {
	c.state = Connecting
	return c.gen.Add(1)
}

// attempt dials once. On success it replays the registry and becomes
// Connected; on failure it schedules a retry.
func (c *PersistentClient) attempt(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen.Load() != gen {
		c.mu.Unlock()
		return
	}
	opts := TransportOptions{Endpoint: c.endpoint, Logger: c.getLogger()}
	if c.presence != "" {
		opts.Will = presenceWill(c.presence, c.endpoint.ClientID)
	}
	c.mu.Unlock()

	t := c.dial(opts, TransportHandlers{
		OnConnectionLost: func(err error) { c.connectionLost(ctx, gen, err) },
		OnMessage:        func(topic string, payload []byte) { c.deliver(gen, topic, payload) },
	})
	err := t.Connect()

	c.mu.Lock()
	if c.gen.Load() != gen {
		c.mu.Unlock()
		if err == nil {
			t.Disconnect()
		}
		return
	}

	if err != nil {
		c.state = Reconnecting
		next := c.gen.Add(1)
		c.mu.Unlock()

		c.getLogger().Warn("mqtt connection attempt failed",
			"broker", opts.Endpoint.URL(),
			"retry_in", c.delay.String(),
			"error", err,
		)
		go c.retry(ctx, next)
		return
	}

	c.transport = t
	c.replayLocked(t)
	if c.presence != "" {
		t.Publish(c.presence, AtLeastOnce, true, []byte(buildOnlinePayload(opts.Endpoint.ClientID)))
	}
	c.state = Connected
	c.mu.Unlock()

	c.getLogger().Info("mqtt connected", "broker", opts.Endpoint.URL(), "client_id", opts.Endpoint.ClientID)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// replayLocked re-issues every registered subscription in order. One failed
// topic does not stop the rest.
func (c *PersistentClient) replayLocked(t Transport) {
	for _, sub := range c.subs.list() {
		if err := t.Subscribe(sub.Topic, sub.QoS); err != nil {
			c.getLogger().Warn("mqtt subscription replay failed", "topic", sub.Topic, "error", err)
		}
	}
}

// connectionLost handles a drop reported by the transport of attempt gen.
func (c *PersistentClient) connectionLost(ctx context.Context, gen uint64, err error) {
	c.mu.Lock()
	if c.gen.Load() != gen || c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.transport = nil

	graceful := err == nil || errors.Is(err, ErrClosedGracefully)
	var next uint64
	if graceful {
		c.gen.Add(1)
		c.state = Disconnected
		if c.cancelRetry != nil {
			c.cancelRetry()
			c.cancelRetry = nil
		}
	} else {
		next = c.gen.Add(1)
		c.state = Reconnecting
	}
	c.mu.Unlock()

	if graceful {
		c.getLogger().Info("mqtt connection closed by broker")
	} else {
		c.getLogger().Warn("mqtt connection lost", "retry_in", c.delay.String(), "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}

	if !graceful {
		go c.retry(ctx, next)
	}
}

// retry waits the reconnect delay off the caller's goroutine, then starts a
// new attempt unless Disconnect intervened.
func (c *PersistentClient) retry(ctx context.Context, gen uint64) {
	select {
	case <-ctx.Done():
		return
	case <-c.after(c.delay):
	}

	c.mu.Lock()
	if c.gen.Load() != gen || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	next := c.beginAttemptLocked()
	c.mu.Unlock()

	c.attempt(ctx, next)
}

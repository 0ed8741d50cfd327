package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for one connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout bounds the background wait on subscribe/publish tokens.
	defaultAckTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// protocolVersion311 selects MQTT 3.1.1.
	protocolVersion311 = 4

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// pahoTransport is the production Transport built on paho.mqtt.golang.
type pahoTransport struct {
	client pahomqtt.Client
	logger Logger
}

// DialPaho is the default Dialer.
func DialPaho(opts TransportOptions, handlers TransportHandlers) Transport {
	o := buildClientOptions(opts.Endpoint)
	if opts.Will != nil {
		o.SetWill(opts.Will.Topic, opts.Will.Payload, byte(opts.Will.QoS), opts.Will.Retain)
	}

	o.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if handlers.OnConnectionLost != nil {
			handlers.OnConnectionLost(err)
		}
	})
	o.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if handlers.OnMessage != nil {
			handlers.OnMessage(msg.Topic(), msg.Payload())
		}
	})

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &pahoTransport{client: pahomqtt.NewClient(o), logger: logger}
}

// buildClientOptions creates paho options for one endpoint.
//
// This configures:
//   - Broker URL (tcp, ssl, ws or wss)
//   - Client ID and credentials
//   - MQTT 3.1.1 with a persistent session (clean session off)
//   - No library-driven reconnect; PersistentClient owns retry
//   - TLS configuration (if enabled)
func buildClientOptions(ep Endpoint) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(ep.URL())
	opts.SetClientID(ep.ClientID)

	if ep.HasCredentials() {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}

	opts.SetProtocolVersion(protocolVersion311)
	opts.SetCleanSession(false)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

func (t *pahoTransport) Connect() error {
	token := t.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (t *pahoTransport) Disconnect() {
	t.client.Disconnect(defaultDisconnectQuiesce)
}

func (t *pahoTransport) Subscribe(topic string, qos QoS) error {
	// nil callback routes messages through the default publish handler.
	return t.await("subscribe", topic, t.client.Subscribe(topic, byte(qos), nil))
}

func (t *pahoTransport) Unsubscribe(topic string) error {
	return t.await("unsubscribe", topic, t.client.Unsubscribe(topic))
}

func (t *pahoTransport) Publish(topic string, qos QoS, retain bool, payload []byte) {
	_ = t.await("publish", topic, t.client.Publish(topic, byte(qos), retain, payload))
}

// await returns a token's error if it is already complete; otherwise it
// leaves a goroutine to log a late failure and returns nil.
func (t *pahoTransport) await(op, topic string, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	default:
	}

	go func() {
		if !token.WaitTimeout(defaultAckTimeout) {
			t.logger.Debug("mqtt acknowledgement pending", "op", op, "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			t.logger.Warn("mqtt operation failed", "op", op, "topic", topic, "error", err)
		}
	}()
	return nil
}

// presenceWill builds the LWT published by the broker if the client
// disconnects unexpectedly (crash, network failure, etc.).
//
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func presenceWill(topic, clientID string) *Will {
	return &Will{
		Topic: topic,
		Payload: fmt.Sprintf(
			`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
			clientID,
			time.Now().UTC().Format(time.RFC3339),
		),
		QoS:    AtLeastOnce,
		Retain: true,
	}
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

package mqtt

import (
	"fmt"
	"strconv"
)

// QoS is an MQTT delivery guarantee.
type QoS byte

// QoS levels.
const (
	// AtMostOnce delivers at most once (fire and forget).
	AtMostOnce QoS = 0

	// AtLeastOnce guarantees delivery, may duplicate.
	AtLeastOnce QoS = 1

	// ExactlyOnce guarantees delivery without duplicates, higher overhead.
	ExactlyOnce QoS = 2
)

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// ConnectionState is the PersistentClient's position in its state machine.
type ConnectionState int

// Connection states.
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// DefaultPort is the standard MQTT port used when none is configured.
const DefaultPort = 1883

// Endpoint describes where and how to reach the broker.
type Endpoint struct {
	Address   string
	Port      int
	ClientID  string
	WebSocket bool
	TLS       bool
	Username  string
	Password  string
}

// HasCredentials reports whether a username is set.
func (e Endpoint) HasCredentials() bool {
	return e.Username != ""
}

// URL returns the broker URL for this endpoint.
//
//	tcp://host:1883       plain TCP
//	ssl://host:8883       TLS
//	ws://host:9001/mqtt   WebSocket
//	wss://host:9001/mqtt  WebSocket over TLS
func (e Endpoint) URL() string {
	host := e.Address + ":" + strconv.Itoa(e.Port)
	switch {
	case e.WebSocket && e.TLS:
		return fmt.Sprintf("wss://%s/mqtt", host)
	case e.WebSocket:
		return fmt.Sprintf("ws://%s/mqtt", host)
	case e.TLS:
		return "ssl://" + host
	default:
		return "tcp://" + host
	}
}

// Subscription is one entry in the subscription registry.
type Subscription struct {
	Topic string
	QoS   QoS
}

// MessageHandler receives every inbound message on the client's subscriptions.
// The payload is decoded as UTF-8 text. Handlers run on the transport's
// delivery goroutine and should not block for extended periods.
type MessageHandler func(topic, payload string)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned by HealthCheck when the client is not Connected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a failed connection attempt.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNoEndpoint is returned by Connect before SetService has been called.
	ErrNoEndpoint = errors.New("mqtt: broker endpoint not configured")

	// ErrClosedGracefully marks a connection loss the peer closed on purpose.
	// Transports report it so the client does not schedule a reconnect.
	ErrClosedGracefully = errors.New("mqtt: connection closed gracefully")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

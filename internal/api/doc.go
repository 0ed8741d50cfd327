// Package api implements the HTTP REST API and WebSocket server for the Gray Logic hub.
//
// This package provides:
//   - REST endpoints for automation program CRUD, compilation and runs
//   - Broker connection status for the hub's core MQTT client
//   - Prometheus metrics and a JSON system snapshot
//   - WebSocket hub relaying event bus traffic to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Optional JWT bearer authentication with ticket-based WebSocket auth
//
// # Architecture
//
// The API server sits between user interfaces and the program engine.
// Program edits go through the registry and restart the program in the
// engine. Events published on the bus (device state from bridges, program
// outcomes, script emits) are pushed to WebSocket clients subscribed to
// "events" or to a domain channel such as "program.changed".
//
// # Security
//
// When security.jwt.secret is set, every route except health and metrics
// requires an HS256 bearer token, and WebSocket connections require a
// single-use ticket from POST /api/v1/auth/ws-ticket. Without a secret the
// API is open.
//
// # Graceful Degradation
//
// The server operates without MQTT, InfluxDB or metrics: the matching
// endpoints report the component as unavailable.
package api

// Package events carries state changes from inside the hub to its user
// interfaces.
//
// Producers (the MQTT state relay, the automation engine, scripts calling
// hub.Emit) publish Events on a Bus; consumers such as the WebSocket hub
// subscribe and forward them. Publish never blocks on a slow consumer
// beyond the consumer's own handler.
package events

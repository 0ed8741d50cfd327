// Package mqtt provides the persistent broker connection used by the Gray Logic hub.
//
// This package manages:
//   - A PersistentClient that owns one logical session with the broker
//   - Its connection state machine (Disconnected, Connecting, Connected, Reconnecting)
//   - A subscription registry replayed on every (re)connect
//   - Fixed-delay reconnection after an unexpected drop
//   - Fire-and-forget publishing that never surfaces errors to callers
//   - Last Will and Testament (LWT) presence for the hub's own client
//
// # Architecture
//
// The broker decouples the hub from protocol bridges and from automation
// programs, each of which holds its own PersistentClient:
//
//	Programs / Hub ↔ MQTT Broker ↔ Protocol Bridges
//
// The client never lets the underlying library reconnect on its own. Every
// transport callback is tagged with the connection generation it belongs to
// and is processed under the client's single mutex, so a callback from an
// abandoned connection cannot move the state machine.
//
// # Transport
//
// Production connections use paho.mqtt.golang over TCP (tcp://host:port) or
// WebSockets (ws://host:port/mqtt), MQTT 3.1.1 with a persistent session.
// Tests swap in a fake through the Dialer.
//
// # Usage
//
//	client := mqtt.NewPersistentClient(mqtt.WithReconnectDelay(5 * time.Second))
//	client.SetService("broker.local", 1883, "graylogic-hub", func(topic, payload string) {
//	    log.Printf("%s = %s", topic, payload)
//	})
//	client.Subscribe(mqtt.Topics{}.AllBridgeStates(), mqtt.AtLeastOnce)
//	client.Connect()
//	defer client.Disconnect()
//
//	client.PublishString(mqtt.Topics{}.BridgeCommand("knx", "light-living"), `{"on":true}`, mqtt.AtLeastOnce, false)
package mqtt

package automation

import (
	"fmt"
	"reflect"

	"github.com/nerrad567/gray-logic-hub/internal/events"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// HostPackage is the import path programs use to reach the hub:
//
//	//@using graylogic/hub;
//
//	hub.Log("lights on", "room", "hall")
//	hub.Publish("graylogic/command/knx/1.1.1", `{"on":true}`)
//	hub.Go(func() { ... })
//
// Programs cannot use go statements; hub.Go is the way to start a goroutine.
const HostPackage = "graylogic/hub"

// hostSymbols binds the hub package for one program.
func (e *Engine) hostSymbols(ps *programState) map[string]reflect.Value {
	return map[string]reflect.Value{
		"Log":       reflect.ValueOf(func(msg string, kv ...any) { e.scriptLog(ps.id, msg, kv...) }),
		"Emit":      reflect.ValueOf(func(domain, source, property string, value any) { e.scriptEmit(domain, source, property, value) }),
		"Publish":   reflect.ValueOf(func(topic, payload string) { e.scriptPublish(ps.id, topic, payload) }),
		"MQTT":      reflect.ValueOf(func() *mqtt.PersistentClient { return e.client(ps) }),
		"ProgramID": reflect.ValueOf(func() string { return ps.id }),
		"Go":        reflect.ValueOf(func(fn func()) { e.scriptGo(ps.id, fn) }),

		"AtMostOnce":  reflect.ValueOf(mqtt.AtMostOnce),
		"AtLeastOnce": reflect.ValueOf(mqtt.AtLeastOnce),
		"ExactlyOnce": reflect.ValueOf(mqtt.ExactlyOnce),

		"QoS":    reflect.ValueOf((*mqtt.QoS)(nil)),
		"Client": reflect.ValueOf((*mqtt.PersistentClient)(nil)),
	}
}

func (e *Engine) scriptLog(programID, msg string, kv ...any) {
	args := append([]any{"program_id", programID}, kv...)
	e.logger.Info(msg, args...)
}

func (e *Engine) scriptEmit(domain, source, property string, value any) {
	if e.events == nil {
		return
	}
	if domain == "" {
		domain = events.DomainProgram
	}
	e.events.Publish(events.New(domain, source, property, value))
}

func (e *Engine) scriptPublish(programID, topic, payload string) {
	if e.publisher == nil {
		e.logger.Warn("publish dropped, no broker connection", "program_id", programID, "topic", topic)
		return
	}
	e.publisher.Publish(topic, []byte(payload), mqtt.AtMostOnce, false)
}

// scriptGo runs fn on a new goroutine. A panic there is logged and emitted
// as a program event instead of stopping the hub.
func (e *Engine) scriptGo(programID string, fn func()) {
	if fn == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("program goroutine panicked", "program_id", programID, "panic", r)
				e.emit(programID, "goroutine_panic", map[string]any{"panic": fmt.Sprint(r)})
			}
		}()
		fn()
	}()
}

// client returns the program's own broker client, creating it on first use.
// It is preconfigured from Config.Broker but not connected; the program
// calls Connect itself.
func (e *Engine) client(ps *programState) *mqtt.PersistentClient {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.client != nil {
		return ps.client
	}

	opts := []mqtt.Option{mqtt.WithDialer(e.dialer)}
	if e.cfg.ReconnectDelay > 0 {
		opts = append(opts, mqtt.WithReconnectDelay(e.cfg.ReconnectDelay))
	}
	c := mqtt.NewPersistentClient(opts...)
	c.SetLogger(&prefixLogger{Logger: e.logger, args: []any{"program_id", ps.id}})

	clientID := programClientID(e.cfg.Broker.ClientID, ps.id)
	if ep := e.cfg.Broker; ep.Address != "" {
		c.SetService(ep.Address, ep.Port, clientID, nil)
		c.UsingTLS(ep.TLS).UsingWebSockets(ep.WebSocket)
		if ep.HasCredentials() {
			c.WithCredentials(ep.Username, ep.Password)
		}
	}
	if e.observer != nil {
		observer := e.observer
		c.SetOnConnect(func() { observer.SetBrokerState(clientID, mqtt.Connected.String()) })
		c.SetOnDisconnect(func(error) { observer.SetBrokerState(clientID, c.State().String()) })
	}

	ps.client = c
	return c
}

// programClientID derives a broker client ID; IDs must be unique per broker.
func programClientID(base, programID string) string {
	if base == "" {
		base = "graylogic-hub"
	}
	return base + "-program-" + programID
}

// prefixLogger adds fixed key/value pairs to every record.
type prefixLogger struct {
	Logger
	args []any
}

func (l *prefixLogger) with(args []any) []any {
	return append(append([]any{}, l.args...), args...)
}

func (l *prefixLogger) Debug(msg string, args ...any) { l.Logger.Debug(msg, l.with(args)...) }
func (l *prefixLogger) Info(msg string, args ...any)  { l.Logger.Info(msg, l.with(args)...) }
func (l *prefixLogger) Warn(msg string, args ...any)  { l.Logger.Warn(msg, l.with(args)...) }
func (l *prefixLogger) Error(msg string, args ...any) { l.Logger.Error(msg, l.with(args)...) }

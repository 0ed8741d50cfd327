package events

import (
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// Logger is the logging interface used by the bus and relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus fans events out to subscribers.
//
// Thread Safety: all methods are safe for concurrent use. Handlers run on
// the publishing goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	subs   []subscriber
	logger Logger
}

type subscriber struct {
	id uint64
	fn Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{logger: noopLogger{}}
}

// SetLogger sets the logger used to report handler panics.
func (b *Bus) SetLogger(l Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l == nil {
		l = noopLogger{}
	}
	b.logger = l
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every subscriber. A panicking handler is logged and
// skipped. Publishing on a nil bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs
	logger := b.logger
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.fn, e, logger)
	}
}

func deliver(fn Handler, e Event, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked", "domain", e.Domain, "source", e.Source, "panic", r)
		}
	}()
	fn(e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Package events fans client notifications out to registered listeners.
// Each Kind is a cskr/pubsub topic; every listener owns one subscription
// channel drained by its own goroutine, so a listener sees events in
// publish order.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cskr/pubsub"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

// Kind names a notification topic.
type Kind string

const (
	// Connected fires once the secure handshake has completed.
	Connected Kind = "connected"
	// Disconnected fires when a connection ends, with the cause in Err.
	Disconnected Kind = "disconnected"
	// Error reports a recoverable failure, such as a malformed inbound line.
	Error Kind = "error"
	// Unsolicited carries an inbound message no pending entry claimed.
	Unsolicited Kind = "unsolicited"
)

// DefaultBuffer is the per-listener channel capacity.
const DefaultBuffer = 64

// Event is a single notification.
type Event struct {
	Kind    Kind
	Message *model.Message
	Err     error
}

// Bus is a typed notification channel with a registry of listener callbacks.
type Bus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a bus whose listener channels hold buffer events.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ps:     pubsub.New(buffer),
		logger: logger,
	}
}

// Publish delivers ev to every listener of ev.Kind. Publishing on a closed
// bus is a no-op. A listener whose buffer is full applies backpressure.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.Pub(ev, string(ev.Kind))
}

// Listen registers fn for events of kind. The returned cancel func stops
// delivery and is safe to call more than once, including from inside fn.
// Listeners must not call Close.
func (b *Bus) Listen(kind Kind, fn func(Event)) (cancel func()) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || fn == nil {
		return func() {}
	}

	ch := b.ps.Sub(string(kind))
	var active atomic.Bool
	active.Store(true)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Drain until pubsub closes the channel; Unsub requires it.
		for v := range ch {
			if !active.Load() {
				continue
			}
			ev, ok := v.(Event)
			if !ok {
				continue
			}
			b.dispatch(kind, fn, ev)
		}
	}()

	return func() {
		if !active.CompareAndSwap(true, false) {
			return
		}
		b.mu.RLock()
		defer b.mu.RUnlock()
		if b.closed {
			return
		}
		// Unsub must not run on the draining goroutine. It holds the read
		// lock so Close cannot shut pubsub down underneath it.
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.mu.RLock()
			defer b.mu.RUnlock()
			if b.closed {
				return
			}
			b.ps.Unsub(ch, string(kind))
		}()
	}
}

func (b *Bus) dispatch(kind Kind, fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panicked", "kind", kind, "panic", r)
		}
	}()
	fn(ev)
}

// Close shuts the bus down and waits for listener goroutines to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.ps.Shutdown()
	b.mu.Unlock()

	b.wg.Wait()
}

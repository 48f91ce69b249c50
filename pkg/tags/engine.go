// Package tags implements the correlation engine: the mapping from client
// tag to the request or subscription waiting on it.
package tags

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

// Kind distinguishes the two pending entry types.
type Kind int

const (
	// OneShot entries complete once and are removed.
	OneShot Kind = iota + 1
	// Subscription entries stay until unregistered or purged.
	Subscription
)

func (k Kind) String() string {
	switch k {
	case OneShot:
		return "one-shot"
	case Subscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// Handler receives every message delivered to a subscription.
type Handler func(msg *model.Message)

type entry struct {
	kind    Kind
	future  *Future // one-shot completion, or first response of a subscription
	handler Handler
}

// Engine owns the tag mapping. All methods are safe for concurrent use;
// handlers are never invoked while the mapping is locked.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*entry

	logger   *slog.Logger
	newID    func() string
	onPanic  func(tag string, recovered any)
	onChange func(pending int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDGenerator replaces the uuid tag generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithPanicHook is called after a subscription handler panic was recovered.
func WithPanicHook(fn func(tag string, recovered any)) Option {
	return func(e *Engine) {
		e.onPanic = fn
	}
}

// WithPendingHook is called with the entry count after every mutation,
// while the mapping is locked. fn must not call back into the engine.
func WithPendingHook(fn func(pending int)) Option {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// NewEngine returns an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewTag returns a tag not currently present in the mapping.
// The tag is not reserved; Register* with an empty tag generates and
// registers atomically.
func (e *Engine) NewTag() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freshTagLocked()
}

func (e *Engine) freshTagLocked() string {
	for {
		tag := e.newID()
		if _, exists := e.entries[tag]; !exists {
			return tag
		}
		e.logger.Warn("Generated client tag collided with a pending entry, regenerating", "tag", tag)
	}
}

// RegisterOneShot records a pending request under tag. An empty tag gets a
// freshly generated one, available through Future.Tag.
func (e *Engine) RegisterOneShot(tag string) (*Future, error) {
	return e.register(tag, OneShot, nil)
}

// RegisterSubscription records handler under tag. The returned Future
// completes with the first message delivered to the subscription; the
// handler receives that message and every later one.
func (e *Engine) RegisterSubscription(tag string, handler Handler) (*Future, error) {
	if handler == nil {
		return nil, fmt.Errorf("tags: subscription handler for tag %q is nil", tag)
	}
	return e.register(tag, Subscription, handler)
}

func (e *Engine) register(tag string, kind Kind, handler Handler) (*Future, error) {
	e.mu.Lock()
	if tag == "" {
		tag = e.freshTagLocked()
	} else if existing, ok := e.entries[tag]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %q already has a pending %s entry", leaperrors.ErrDuplicateTag, tag, existing.kind)
	}
	f := newFuture(tag)
	e.entries[tag] = &entry{kind: kind, future: f, handler: handler}
	e.changed(len(e.entries))
	e.mu.Unlock()

	e.logger.Debug("Registered pending entry", "tag", tag, "kind", kind)
	return f, nil
}

// ResolveOneShot removes the one-shot entry for tag and completes it with
// msg. It returns false when no one-shot entry exists.
func (e *Engine) ResolveOneShot(tag string, msg *model.Message) bool {
	e.mu.Lock()
	ent, ok := e.entries[tag]
	if !ok || ent.kind != OneShot {
		e.mu.Unlock()
		return false
	}
	delete(e.entries, tag)
	e.changed(len(e.entries))
	e.mu.Unlock()

	ent.future.resolve(msg)
	return true
}

// DeliverSubscription hands msg to the subscription registered under tag.
// The first delivery also completes the subscription's Future. It returns
// false when no subscription exists. A panicking handler is recovered and
// logged.
func (e *Engine) DeliverSubscription(tag string, msg *model.Message) bool {
	e.mu.Lock()
	ent, ok := e.entries[tag]
	if !ok || ent.kind != Subscription {
		e.mu.Unlock()
		return false
	}
	first := ent.future
	ent.future = nil
	handler := ent.handler
	e.mu.Unlock()

	if first != nil {
		first.resolve(msg)
	}
	e.invoke(tag, handler, msg)
	return true
}

func (e *Engine) invoke(tag string, handler Handler, msg *model.Message) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Subscription handler panicked", "tag", tag, "url", msg.Header.Url, "panic", r)
			if e.onPanic != nil {
				e.onPanic(tag, r)
			}
		}
	}()
	handler(msg)
}

// Unregister removes the entry for tag, of either kind. A still pending
// completion is failed with ErrUnregistered. It reports whether an entry
// was removed.
func (e *Engine) Unregister(tag string) bool {
	e.mu.Lock()
	ent, ok := e.entries[tag]
	if ok {
		delete(e.entries, tag)
		e.changed(len(e.entries))
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	if ent.future != nil {
		ent.future.fail(fmt.Errorf("%w: %s", leaperrors.ErrUnregistered, tag))
	}
	e.logger.Debug("Unregistered pending entry", "tag", tag, "kind", ent.kind)
	return true
}

// PurgeAll empties the mapping. One-shot completions, and subscription
// first responses still outstanding, fail with a ConnectionClosedError
// carrying reason. Subscriptions are dropped without notifying handlers.
// It returns the number of entries removed.
func (e *Engine) PurgeAll(reason error) int {
	e.mu.Lock()
	purged := e.entries
	e.entries = make(map[string]*entry)
	e.changed(0)
	e.mu.Unlock()

	if len(purged) == 0 {
		return 0
	}

	closed := leaperrors.Closed(reason)
	for _, ent := range purged {
		if ent.future != nil {
			ent.future.fail(closed)
		}
	}
	e.logger.Info("Purged pending entries", "count", len(purged), "reason", reason)
	return len(purged)
}

// Lookup reports the kind of entry registered under tag.
func (e *Engine) Lookup(tag string) (Kind, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[tag]
	if !ok {
		return 0, false
	}
	return ent.kind, true
}

// Len returns the number of pending entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) changed(n int) {
	if e.onChange != nil {
		e.onChange(n)
	}
}

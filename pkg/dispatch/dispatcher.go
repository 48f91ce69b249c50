// Package dispatch routes each inbound message to a pending subscription,
// a pending request, or the unsolicited channel.
package dispatch

import (
	"log/slog"

	"github.com/lightforgemedia/go-leapmq/pkg/metrics"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/lightforgemedia/go-leapmq/pkg/tags"
)

// Outcome is the routing decision for one message.
type Outcome int

const (
	OutcomeUnsolicited Outcome = iota
	OutcomeSubscription
	OutcomeOneShot
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubscription:
		return "subscription"
	case OutcomeOneShot:
		return "one_shot"
	default:
		return "unsolicited"
	}
}

// Dispatcher consults the engine for every inbound message. Messages that
// match nothing are never dropped; they go to the unsolicited func.
type Dispatcher struct {
	engine      *tags.Engine
	unsolicited func(*model.Message)
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics counts outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New returns a dispatcher over engine. unsolicited may be nil.
func New(engine *tags.Engine, unsolicited func(*model.Message), opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:      engine,
		unsolicited: unsolicited,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes msg and reports where it went.
func (d *Dispatcher) Dispatch(msg *model.Message) Outcome {
	outcome := d.route(msg)
	d.metrics.Received(outcome.String())
	return outcome
}

func (d *Dispatcher) route(msg *model.Message) Outcome {
	tag := msg.Tag()
	if tag == "" {
		d.emit(msg)
		return OutcomeUnsolicited
	}
	if d.engine.DeliverSubscription(tag, msg) {
		return OutcomeSubscription
	}
	if d.engine.ResolveOneShot(tag, msg) {
		return OutcomeOneShot
	}

	d.logger.Debug("No pending entry for tagged message, forwarding as unsolicited",
		"tag", tag, "url", msg.Header.Url, "communique", msg.CommuniqueType)
	d.emit(msg)
	return OutcomeUnsolicited
}

func (d *Dispatcher) emit(msg *model.Message) {
	if d.unsolicited != nil {
		d.unsolicited(msg)
	}
}

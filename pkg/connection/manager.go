// Package connection owns the single stream to a bridge: its lifecycle,
// the read pump that frames and hands over inbound messages, and the write
// pump that serializes outbound ones.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/events"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
	"github.com/lightforgemedia/go-leapmq/pkg/metrics"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

const defaultSendBuffer = 16

// Sink receives what the read pump produces. Both methods run on the read
// pump; HandleDisconnect is the last call for a connection and no
// HandleMessage follows it.
type Sink interface {
	HandleMessage(msg *model.Message)
	HandleDisconnect(cause error)
}

type outbound struct {
	msg  *model.Message
	data []byte
	errc chan error
}

// session is the state of one established connection.
type session struct {
	stream Stream
	ctx    context.Context
	cancel context.CancelFunc
	send   chan outbound
	ready  chan struct{}
	wg     sync.WaitGroup

	once  sync.Once
	cause error
}

// Manager opens, runs and closes the connection. It never reconnects on
// its own.
type Manager struct {
	provider Provider
	sink     Sink

	logger       *slog.Logger
	bus          *events.Bus
	metrics      *metrics.Metrics
	writeTimeout time.Duration
	maxLineSize  int
	sendBuffer   int

	mu            sync.Mutex
	state         State
	sess          *session
	connectCancel context.CancelCauseFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEventBus publishes connected, disconnected and error events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithMetrics records state changes, sent and malformed messages.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithWriteTimeout bounds each stream write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.writeTimeout = d
		}
	}
}

// WithMaxLineSize caps a single inbound document.
func WithMaxLineSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxLineSize = n
		}
	}
}

// WithSendBuffer sets the outbound queue length.
func WithSendBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sendBuffer = n
		}
	}
}

// NewManager returns a disconnected manager.
func NewManager(provider Provider, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		provider:    provider,
		sink:        sink,
		logger:      slog.Default(),
		maxLineSize: framer.DefaultMaxLineSize,
		sendBuffer:  defaultSendBuffer,
		state:       Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("Connection state changed", "from", m.state, "to", s)
	m.state = s
	m.metrics.SetConnectionState(int(s))
}

// Connect dials the provider, completes the secure handshake when the
// stream requires one and starts the pumps. It fails with
// ErrAlreadyConnected unless the manager is disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (state %s)", leaperrors.ErrAlreadyConnected, state)
	}
	dialCtx, cancel := context.WithCancelCause(ctx)
	m.connectCancel = cancel
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	stream, err := m.establish(dialCtx)
	if err != nil {
		if cause := context.Cause(dialCtx); cause != nil && ctx.Err() == nil {
			// Dropped while connecting.
			err = cause
		}
		cancel(nil)
		m.mu.Lock()
		m.connectCancel = nil
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		m.logger.Warn("Connect failed", "error", err)
		return err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		stream: stream,
		ctx:    sessCtx,
		cancel: sessCancel,
		send:   make(chan outbound, m.sendBuffer),
		ready:  make(chan struct{}),
	}

	m.mu.Lock()
	m.connectCancel = nil
	if cause := context.Cause(dialCtx); cause != nil {
		// Closed while the handshake was finishing.
		m.setStateLocked(Disconnected)
		m.mu.Unlock()
		cancel(nil)
		sessCancel()
		_ = stream.Close()
		return cause
	}
	m.sess = sess
	m.setStateLocked(Connected)
	sess.wg.Add(2)
	go m.readPump(sess)
	go m.writePump(sess)
	m.mu.Unlock()
	cancel(nil)

	m.logger.Info("Connected")
	m.publish(events.Event{Kind: events.Connected})
	close(sess.ready)
	return nil
}

func (m *Manager) establish(ctx context.Context) (Stream, error) {
	stream, err := m.provider.Dial(ctx)
	if err != nil {
		return nil, err
	}

	hs, ok := stream.(handshaker)
	if !ok {
		return stream, nil
	}

	m.mu.Lock()
	m.setStateLocked(SecureHandshake)
	m.mu.Unlock()

	if err := hs.HandshakeContext(ctx); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("connection: secure handshake: %w", err)
	}
	return stream, nil
}

// Close shuts the connection down and waits until the sink has been told
// with ErrClosedByClient. It is a no-op when already disconnected and must
// not be called from the sink.
func (m *Manager) Close() error {
	return m.Drop(leaperrors.ErrClosedByClient)
}

// Drop is Close with an explicit disconnect cause.
func (m *Manager) Drop(cause error) error {
	m.mu.Lock()
	switch m.state {
	case Disconnected:
		m.mu.Unlock()
		return nil
	case Connecting, SecureHandshake:
		cancel := m.connectCancel
		m.mu.Unlock()
		if cancel != nil {
			cancel(cause)
		}
		return nil
	}
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	m.teardown(sess, cause)
	sess.wg.Wait()
	return nil
}

// teardown ends a session once: pumps are cancelled and the stream closed.
// The read pump finishes the transition to Disconnected.
func (m *Manager) teardown(sess *session, cause error) {
	sess.once.Do(func() {
		sess.cause = cause
		m.mu.Lock()
		if m.sess == sess {
			m.setStateLocked(Closing)
		}
		m.mu.Unlock()

		sess.cancel()
		if err := sess.stream.Close(); err != nil {
			m.logger.Debug("Closing stream", "error", err)
		}
	})
}

// Write serializes msg and queues it on the write pump, then waits for the
// stream write. Writes are issued in call order.
func (m *Manager) Write(ctx context.Context, msg *model.Message) error {
	data, err := framer.Encode(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sess := m.sess
	state := m.state
	m.mu.Unlock()
	if state != Connected || sess == nil {
		return leaperrors.ErrNotConnected
	}

	out := outbound{msg: msg, data: data, errc: make(chan error, 1)}
	select {
	case sess.send <- out:
	case <-sess.ctx.Done():
		return leaperrors.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.errc:
		if err != nil {
			return fmt.Errorf("%w: %w", leaperrors.ErrNotConnected, err)
		}
		return nil
	case <-sess.ctx.Done():
		select {
		case err := <-out.errc:
			if err == nil {
				return nil
			}
		default:
		}
		return leaperrors.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) readPump(sess *session) {
	defer sess.wg.Done()

	<-sess.ready

	reader := framer.NewReader(sess.stream, framer.WithMaxLineSize(m.maxLineSize))
	for {
		msg, err := reader.Next()
		if err == nil {
			if sess.ctx.Err() != nil {
				// Torn down; buffered lines are not delivered.
				break
			}
			m.sink.HandleMessage(msg)
			continue
		}

		var malformed *leaperrors.MalformedError
		if errors.As(err, &malformed) {
			m.logger.Warn("Discarding malformed message", "error", err)
			m.metrics.Malformed()
			m.publish(events.Event{Kind: events.Error, Err: err})
			continue
		}

		m.teardown(sess, readCause(err))
		break
	}

	m.logger.Info("Disconnected", "cause", sess.cause)
	m.sink.HandleDisconnect(sess.cause)

	m.mu.Lock()
	if m.sess == sess {
		m.sess = nil
		m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()

	m.publish(events.Event{Kind: events.Disconnected, Err: sess.cause})
}

func readCause(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", leaperrors.ErrPeerClosed, err)
	}
	return fmt.Errorf("connection: read: %w", err)
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (m *Manager) writePump(sess *session) {
	defer sess.wg.Done()

	for {
		select {
		case out := <-sess.send:
			if d, ok := sess.stream.(writeDeadliner); ok && m.writeTimeout > 0 {
				_ = d.SetWriteDeadline(time.Now().Add(m.writeTimeout))
			}
			_, err := sess.stream.Write(out.data)
			out.errc <- err
			if err != nil {
				m.logger.Warn("Write failed", "url", out.msg.Header.Url, "error", err)
				m.teardown(sess, fmt.Errorf("connection: write: %w", err))
				return
			}
			m.metrics.Sent(string(out.msg.CommuniqueType))
			m.logger.Debug("Sent message", "communique", out.msg.CommuniqueType, "url", out.msg.Header.Url, "tag", out.msg.Tag())
		case <-sess.ctx.Done():
			return
		}
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

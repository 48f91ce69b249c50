// Package client is the public face of leapmq: tagged requests,
// subscriptions and unsolicited notifications over one bridge connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lightforgemedia/go-leapmq/pkg/connection"
	"github.com/lightforgemedia/go-leapmq/pkg/credentials"
	"github.com/lightforgemedia/go-leapmq/pkg/dispatch"
	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/events"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/lightforgemedia/go-leapmq/pkg/tags"
)

// Client correlates requests and responses over a single connection.
// Subscription handlers run on the connection's read loop, one at a time
// and in arrival order; a handler must not wait for another response from
// the same client.
type Client struct {
	config clientConfig
	logger *slog.Logger

	engine     *tags.Engine
	dispatcher *dispatch.Dispatcher
	manager    *connection.Manager
	bus        *events.Bus

	mu              sync.Mutex
	isShutdown      bool
	keepAliveCancel context.CancelFunc
	keepAliveWg     sync.WaitGroup
}

// SubscribeResult is the outcome of Subscribe: the tag under which
// notifications arrive and the first response.
type SubscribeResult struct {
	Tag      string
	Response *model.Message
}

// New creates a client for the bridge at host:port authenticating with
// the PEM encoded CA, client key and client certificate. It does not
// connect.
func New(host string, port int, caCert, clientKey, clientCert string, opts ...Option) (*Client, error) {
	c := &Client{config: defaultConfig()}
	for _, opt := range opts {
		opt(c)
	}

	if c.config.provider == nil {
		if host == "" {
			return nil, fmt.Errorf("client: host is required")
		}
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("client: invalid port %d", port)
		}
		material := credentials.Material{CA: []byte(caCert), Key: []byte(clientKey), Cert: []byte(clientCert)}
		if _, err := material.TLSConfig(c.config.serverName); err != nil {
			return nil, err
		}
		provider := connection.NewTLSProvider(host, port, credentials.Static(caCert, clientKey, clientCert))
		provider.ServerName = c.config.serverName
		c.config.provider = provider
	}

	c.init()
	return c, nil
}

// NewWithProvider creates a client over an arbitrary stream provider.
func NewWithProvider(provider connection.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("client: provider is required")
	}
	return New("", 0, "", "", "", append(opts, WithProvider(provider))...)
}

func (c *Client) init() {
	cfg := c.config
	c.logger = cfg.logger
	c.bus = events.NewBus(cfg.eventBuffer, c.logger)
	c.engine = tags.NewEngine(
		tags.WithLogger(c.logger),
		tags.WithPanicHook(func(string, any) { cfg.metrics.HandlerPanic() }),
		tags.WithPendingHook(cfg.metrics.SetPending),
	)
	c.dispatcher = dispatch.New(c.engine, c.emitUnsolicited,
		dispatch.WithLogger(c.logger),
		dispatch.WithMetrics(cfg.metrics),
	)
	c.manager = connection.NewManager(cfg.provider, sink{c},
		connection.WithLogger(c.logger),
		connection.WithEventBus(c.bus),
		connection.WithMetrics(cfg.metrics),
		connection.WithWriteTimeout(cfg.writeTimeout),
		connection.WithMaxLineSize(cfg.maxLineSize),
	)
}

// sink adapts the client to the connection manager.
type sink struct{ c *Client }

func (s sink) HandleMessage(msg *model.Message) {
	s.c.dispatcher.Dispatch(msg)
}

func (s sink) HandleDisconnect(cause error) {
	s.c.stopKeepAlive()
	s.c.engine.PurgeAll(cause)
}

func (c *Client) emitUnsolicited(msg *model.Message) {
	c.bus.Publish(events.Event{Kind: events.Unsolicited, Message: msg})
}

// Connect opens the connection. It returns once the secure handshake has
// completed.
func (c *Client) Connect(ctx context.Context) error {
	if c.shutdown() {
		return leaperrors.ErrShutdown
	}
	if err := c.manager.Connect(ctx); err != nil {
		return err
	}
	c.startKeepAlive()
	return nil
}

// Close disconnects. Every outstanding request fails with a
// ConnectionClosedError and every subscription is dropped. Close is
// idempotent; the client may connect again afterwards.
func (c *Client) Close() error {
	c.stopKeepAlive()
	return c.manager.Close()
}

// Shutdown closes the client for good and stops event delivery.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.isShutdown {
		c.mu.Unlock()
		return nil
	}
	c.isShutdown = true
	c.mu.Unlock()

	err := c.Close()
	c.keepAliveWg.Wait()
	c.bus.Close()
	return err
}

func (c *Client) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isShutdown
}

// State reports the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Request sends a request and waits for the response carrying its tag. An
// empty tag is generated. When ctx ends first the tag is released and the
// error matches both ErrTimeout and the context error.
func (c *Client) Request(ctx context.Context, communiqueType model.CommuniqueType, url string, body any, tag string) (*model.Message, error) {
	start := time.Now()
	f, err := c.RequestAsync(ctx, communiqueType, url, body, tag)
	if err != nil {
		return nil, err
	}
	resp, err := c.await(ctx, f)
	c.observe(communiqueType, resp, err, start)
	return resp, err
}

// RequestAsync sends a request and returns its completion handle without
// waiting. A caller that stops waiting should release the tag with Cancel.
func (c *Client) RequestAsync(ctx context.Context, communiqueType model.CommuniqueType, url string, body any, tag string) (*tags.Future, error) {
	msg, err := c.prepare(communiqueType, url, body)
	if err != nil {
		return nil, err
	}
	f, err := c.engine.RegisterOneShot(tag)
	if err != nil {
		return nil, err
	}
	if err := c.send(ctx, msg, f.Tag()); err != nil {
		return nil, err
	}
	return f, nil
}

// Cancel releases a pending request. Its future fails with ErrUnregistered.
func (c *Client) Cancel(tag string) bool {
	kind, ok := c.engine.Lookup(tag)
	if !ok || kind != tags.OneShot {
		return false
	}
	return c.engine.Unregister(tag)
}

// Subscribe registers handler under tag (generated when empty) and sends
// the subscribe request. The handler receives the first response as well as
// every later message carrying the tag. An empty communiqueType means
// SubscribeRequest.
func (c *Client) Subscribe(ctx context.Context, url string, handler func(*model.Message), communiqueType model.CommuniqueType, body any, tag string) (*SubscribeResult, error) {
	if communiqueType == "" {
		communiqueType = model.SubscribeRequest
	}
	if handler == nil {
		return nil, fmt.Errorf("client: subscribe %s: nil handler", url)
	}
	start := time.Now()

	msg, err := c.prepare(communiqueType, url, body)
	if err != nil {
		return nil, err
	}
	first, err := c.engine.RegisterSubscription(tag, handler)
	if err != nil {
		return nil, err
	}
	if err := c.send(ctx, msg, first.Tag()); err != nil {
		return nil, err
	}

	resp, err := c.await(ctx, first)
	c.observe(communiqueType, resp, err, start)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Subscribed", "url", url, "tag", first.Tag(), "status", resp.Header.StatusCode)
	return &SubscribeResult{Tag: first.Tag(), Response: resp}, nil
}

// Unsubscribe drops the local subscription for tag. Nothing is sent to the
// bridge. It reports whether a subscription was removed.
func (c *Client) Unsubscribe(tag string) bool {
	kind, ok := c.engine.Lookup(tag)
	if !ok || kind != tags.Subscription {
		return false
	}
	return c.engine.Unregister(tag)
}

// OnUnsolicited registers fn for messages no pending request or
// subscription claimed. Delivery is asynchronous and in arrival order.
func (c *Client) OnUnsolicited(fn func(*model.Message)) (cancel func()) {
	return c.bus.Listen(events.Unsolicited, func(ev events.Event) { fn(ev.Message) })
}

// On registers fn for events of kind.
func (c *Client) On(kind events.Kind, fn func(events.Event)) (cancel func()) {
	return c.bus.Listen(kind, fn)
}

func (c *Client) prepare(communiqueType model.CommuniqueType, url string, body any) (*model.Message, error) {
	if c.shutdown() {
		return nil, leaperrors.ErrShutdown
	}
	if state := c.manager.State(); state != connection.Connected {
		return nil, fmt.Errorf("%w (state %s)", leaperrors.ErrNotConnected, state)
	}
	return model.NewRequest(communiqueType, url, body)
}

func (c *Client) send(ctx context.Context, msg *model.Message, tag string) error {
	msg.Header.ClientTag = tag
	if err := c.manager.Write(ctx, msg); err != nil {
		c.engine.Unregister(tag)
		return err
	}
	return nil
}

func (c *Client) await(ctx context.Context, f *tags.Future) (*model.Message, error) {
	if _, ok := ctx.Deadline(); !ok && c.config.defaultRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.defaultRequestTimeout)
		defer cancel()
	}

	resp, err := f.Wait(ctx)
	if err == nil || ctx.Err() == nil {
		return resp, err
	}
	if !c.engine.Unregister(f.Tag()) {
		// Completed between the deadline and the unregister.
		return f.Result()
	}
	c.logger.Debug("Request abandoned", "tag", f.Tag(), "error", ctx.Err())
	return nil, leaperrors.Timeout(f.Tag(), ctx.Err())
}

func (c *Client) observe(communiqueType model.CommuniqueType, resp *model.Message, err error, start time.Time) {
	if c.config.metrics == nil {
		return
	}
	status := "error"
	switch {
	case err == nil && resp.Header.StatusCode != nil:
		status = strconv.Itoa(resp.Header.StatusCode.Code)
	case err == nil:
		status = "none"
	case errors.Is(err, leaperrors.ErrTimeout):
		status = "timeout"
	}
	c.config.metrics.ObserveRequest(string(communiqueType), status, time.Since(start))
}

func (c *Client) startKeepAlive() {
	interval := c.config.keepAliveInterval
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.keepAliveCancel != nil {
		c.keepAliveCancel()
	}
	c.keepAliveCancel = cancel
	c.keepAliveWg.Add(1)
	c.mu.Unlock()

	go c.keepAliveLoop(ctx, interval)
}

func (c *Client) stopKeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepAliveCancel != nil {
		c.keepAliveCancel()
		c.keepAliveCancel = nil
	}
}

func (c *Client) keepAliveLoop(ctx context.Context, interval time.Duration) {
	defer c.keepAliveWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.logger.Debug("Keepalive started", "interval", interval, "url", c.config.keepAliveURL)

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			_, err := c.Request(pingCtx, model.ReadRequest, c.config.keepAliveURL, nil, "")
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Keepalive failed, dropping connection", "url", c.config.keepAliveURL, "error", err)
			_ = c.manager.Drop(fmt.Errorf("keepalive %s: %w", c.config.keepAliveURL, err))
			return
		case <-ctx.Done():
			return
		}
	}
}

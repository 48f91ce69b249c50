package client

import (
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-leapmq/pkg/connection"
	"github.com/lightforgemedia/go-leapmq/pkg/events"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
	"github.com/lightforgemedia/go-leapmq/pkg/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	// DefaultKeepAliveURL is read by the keepalive loop unless overridden.
	DefaultKeepAliveURL = "/server/1/status/ping"
)

type clientConfig struct {
	logger                *slog.Logger
	metrics               *metrics.Metrics
	eventBuffer           int
	writeTimeout          time.Duration
	defaultRequestTimeout time.Duration // zero: callers' contexts only
	keepAliveInterval     time.Duration // zero: disabled
	keepAliveURL          string
	serverName            string
	maxLineSize           int
	provider              connection.Provider
}

// Option configures the Client.
type Option func(*Client)

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger                *slog.Logger
	Metrics               *metrics.Metrics
	EventBuffer           int
	WriteTimeout          time.Duration
	DefaultRequestTimeout time.Duration
	KeepAliveInterval     time.Duration
	KeepAliveURL          string
	ServerName            string
	MaxLineSize           int
	Provider              connection.Provider
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:       slog.Default(),
		EventBuffer:  events.DefaultBuffer,
		WriteTimeout: defaultWriteTimeout,
		KeepAliveURL: DefaultKeepAliveURL,
		MaxLineSize:  framer.DefaultMaxLineSize,
	}
}

func defaultConfig() clientConfig {
	o := DefaultOptions()
	return clientConfig{
		logger:       o.Logger,
		eventBuffer:  o.EventBuffer,
		writeTimeout: o.WriteTimeout,
		keepAliveURL: o.KeepAliveURL,
		maxLineSize:  o.MaxLineSize,
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.config.logger = logger
		}
	}
}

// WithMetrics instruments the client. The caller owns the registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.config.metrics = m
	}
}

// WithEventBuffer sets the per-listener event queue length.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.config.eventBuffer = n
		}
	}
}

// WithWriteTimeout bounds each write to the stream. Zero disables it.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout >= 0 {
			c.config.writeTimeout = timeout
		}
	}
}

// WithDefaultRequestTimeout applies timeout to requests whose context has
// no deadline. Requests wait indefinitely by default.
func WithDefaultRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.defaultRequestTimeout = timeout
		}
	}
}

// WithKeepAlive reads url every interval while connected; a ping that
// fails or outlasts the interval drops the connection. An empty url uses
// DefaultKeepAliveURL.
func WithKeepAlive(interval time.Duration, url string) Option {
	return func(c *Client) {
		c.config.keepAliveInterval = interval
		if url != "" {
			c.config.keepAliveURL = url
		}
	}
}

// WithServerName enables hostname verification of the bridge certificate.
func WithServerName(name string) Option {
	return func(c *Client) {
		c.config.serverName = name
	}
}

// WithMaxLineSize caps a single inbound document.
func WithMaxLineSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.config.maxLineSize = n
		}
	}
}

// WithProvider replaces the TLS provider, e.g. with a websocket tunnel or a
// test double. Credentials passed to New are then ignored.
func WithProvider(p connection.Provider) Option {
	return func(c *Client) {
		c.config.provider = p
	}
}

// NewWithOptions creates a client from an Options struct.
func NewWithOptions(host string, port int, caCert, clientKey, clientCert string, opts Options) (*Client, error) {
	return New(host, port, caCert, clientKey, clientCert, opts.apply)
}

func (o Options) apply(c *Client) {
	for _, opt := range []Option{
		WithLogger(o.Logger),
		WithMetrics(o.Metrics),
		WithEventBuffer(o.EventBuffer),
		WithWriteTimeout(o.WriteTimeout),
		WithDefaultRequestTimeout(o.DefaultRequestTimeout),
		WithKeepAlive(o.KeepAliveInterval, o.KeepAliveURL),
		WithServerName(o.ServerName),
		WithMaxLineSize(o.MaxLineSize),
	} {
		opt(c)
	}
	if o.Provider != nil {
		c.config.provider = o.Provider
	}
}

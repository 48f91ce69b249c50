package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-leapmq/pkg/credentials"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
)

// Stream is an established byte stream to the bridge.
type Stream interface {
	io.ReadWriteCloser
}

// Provider opens streams. It is the seam between the manager and the
// transport; tests inject an in-memory provider.
type Provider interface {
	Dial(ctx context.Context) (Stream, error)
}

// handshaker is implemented by streams that still need a secure handshake
// after Dial, such as *tls.Conn.
type handshaker interface {
	HandshakeContext(ctx context.Context) error
}

// TLSProvider dials a bridge over TCP and wraps the socket in mutual TLS.
// The handshake is left to the manager.
type TLSProvider struct {
	Addr       string
	Source     credentials.Source
	ServerName string
	Dialer     *net.Dialer
}

// NewTLSProvider returns a provider for host:port.
func NewTLSProvider(host string, port int, source credentials.Source) *TLSProvider {
	return &TLSProvider{
		Addr:   net.JoinHostPort(host, fmt.Sprint(port)),
		Source: source,
	}
}

// Dial implements Provider.
func (p *TLSProvider) Dial(ctx context.Context) (Stream, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("connection: TLS provider for %s has no credentials", p.Addr)
	}
	material, err := p.Source.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := material.TLSConfig(p.ServerName)
	if err != nil {
		return nil, err
	}

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	}
	raw, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return nil, fmt.Errorf("connection: dial %s: %w", p.Addr, err)
	}
	return tls.Client(raw, cfg), nil
}

// WebSocketProvider carries the newline-delimited stream over a websocket,
// one text message per write.
type WebSocketProvider struct {
	URL         string
	DialOptions *websocket.DialOptions
	// ReadLimit caps a single websocket message. Zero means
	// framer.DefaultMaxLineSize.
	ReadLimit int64
}

// Dial implements Provider.
func (p *WebSocketProvider) Dial(ctx context.Context) (Stream, error) {
	conn, resp, err := websocket.Dial(ctx, p.URL, p.DialOptions)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connection: websocket dial %s (status %s): %w", p.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("connection: websocket dial %s: %w", p.URL, err)
	}
	limit := p.ReadLimit
	if limit <= 0 {
		limit = framer.DefaultMaxLineSize
	}
	conn.SetReadLimit(limit)

	// The net.Conn outlives ctx, which only bounds the dial.
	return websocket.NetConn(context.Background(), conn, websocket.MessageText), nil
}

package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-leapmq/pkg/connection"
)

// PipeProvider hands a connection manager one end of a net.Pipe per dial
// and wraps the other end in a Peer. Streams it returns require a secure
// handshake, which can be held open or failed on demand.
type PipeProvider struct {
	t         testing.TB
	responder Responder
	peers     chan *Peer

	mu           sync.Mutex
	dials        int
	dialErr      error
	handshakeErr error
	gate         chan struct{}
}

var _ connection.Provider = (*PipeProvider)(nil)

// NewPipeProvider returns a provider whose peers use responder.
func NewPipeProvider(t testing.TB, responder Responder) *PipeProvider {
	return &PipeProvider{
		t:         t,
		responder: responder,
		peers:     make(chan *Peer, 16),
	}
}

// Dial implements connection.Provider.
func (p *PipeProvider) Dial(ctx context.Context) (connection.Stream, error) {
	p.mu.Lock()
	p.dials++
	dialErr, hsErr, gate := p.dialErr, p.handshakeErr, p.gate
	p.mu.Unlock()

	if dialErr != nil {
		return nil, dialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clientSide, bridgeSide := net.Pipe()
	peer := NewPeer(p.t, bridgeSide, p.responder)
	p.t.Cleanup(func() { _ = peer.Close() })

	stream := &pipeStream{Conn: clientSide, gate: gate, err: hsErr, onFail: func() { _ = peer.Close() }}
	select {
	case p.peers <- peer:
	default:
		p.t.Logf("PipeProvider: peer queue full")
	}
	return stream, nil
}

// Peer waits for the bridge end of the next dial.
func (p *PipeProvider) Peer(timeout time.Duration) *Peer {
	p.t.Helper()
	select {
	case peer := <-p.peers:
		return peer
	case <-time.After(timeout):
		p.t.Fatalf("PipeProvider: no connection within %v", timeout)
		return nil
	}
}

// Dials returns how many times Dial was called.
func (p *PipeProvider) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

// FailDial makes later dials fail with err. nil restores normal dials.
func (p *PipeProvider) FailDial(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialErr = err
}

// FailHandshake makes later secure handshakes fail with err.
func (p *PipeProvider) FailHandshake(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handshakeErr = err
}

// HoldHandshake blocks later handshakes until the returned release func is
// called.
func (p *PipeProvider) HoldHandshake() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			p.mu.Lock()
			if p.gate == gate {
				p.gate = nil
			}
			p.mu.Unlock()
		})
	}
}

type pipeStream struct {
	net.Conn
	gate   chan struct{}
	err    error
	onFail func()
}

// HandshakeContext stands in for the TLS handshake.
func (s *pipeStream) HandshakeContext(ctx context.Context) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			s.onFail()
			return ctx.Err()
		}
	}
	if s.err != nil {
		s.onFail()
		return s.err
	}
	return nil
}

// Package testutil provides test doubles for the leapmq packages: an
// in-memory bridge peer, providers that hand it to a connection manager,
// and throwaway certificates.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/stretchr/testify/require"
)

// Responder is called on the peer's read loop for every message the client
// writes.
type Responder func(p *Peer, msg *model.Message)

// Peer is the bridge end of a connection. It records every message the
// client writes and can push arbitrary lines back.
type Peer struct {
	t    testing.TB
	conn net.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	written   []*model.Message
	responder Responder

	received chan *model.Message
	done     chan struct{}
	closeErr error
	once     sync.Once
}

// NewPeer starts reading from conn. responder may be nil.
func NewPeer(t testing.TB, conn net.Conn, responder Responder) *Peer {
	p := &Peer{
		t:         t,
		conn:      conn,
		responder: responder,
		received:  make(chan *model.Message, 1024),
		done:      make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Peer) readLoop() {
	defer close(p.done)
	reader := framer.NewReader(p.conn)
	for {
		msg, err := reader.Next()
		if err != nil {
			if errors.Is(err, leaperrors.ErrMalformedMessage) {
				p.t.Logf("Peer: client wrote an unparseable line: %v", err)
				continue
			}
			return
		}

		p.mu.Lock()
		p.written = append(p.written, msg)
		responder := p.responder
		p.mu.Unlock()

		select {
		case p.received <- msg:
		default:
			p.t.Logf("Peer: received buffer full, dropping %s %s", msg.CommuniqueType, msg.Header.Url)
		}
		if responder != nil {
			responder(p, msg)
		}
	}
}

// SetResponder replaces the responder.
func (p *Peer) SetResponder(r Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = r
}

// Send writes line verbatim, adding the newline when missing.
func (p *Peer) Send(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.conn.Write([]byte(line))
	return err
}

// SendMessage encodes msg and writes it.
func (p *Peer) SendMessage(msg *model.Message) error {
	data, err := framer.Encode(msg)
	if err != nil {
		return err
	}
	return p.Send(string(data))
}

// Written returns every message the client has written so far.
func (p *Peer) Written() []*model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.Message, len(p.written))
	copy(out, p.written)
	return out
}

// Next waits for the next message written by the client.
func (p *Peer) Next(ctx context.Context) (*model.Message, error) {
	select {
	case msg := <-p.received:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expect is Next with a timeout that fails the test.
func (p *Peer) Expect(timeout time.Duration) *model.Message {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	msg, err := p.Next(ctx)
	require.NoError(p.t, err, "peer expected a message from the client")
	return msg
}

// Close ends the connection from the bridge side.
func (p *Peer) Close() error {
	p.once.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// Done is closed once the peer stopped reading.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Reply builds the response to req: the matching response type, the same
// tag and URL, and the given status ("200 OK") and raw JSON body.
func Reply(req *model.Message, status, body string) *model.Message {
	resp := &model.Message{
		CommuniqueType: ResponseType(req.CommuniqueType),
		Header: model.Header{
			ClientTag: req.Header.ClientTag,
			Url:       req.Header.Url,
		},
	}
	if status != "" {
		sc, err := model.ParseStatusCode(status)
		if err != nil {
			panic(fmt.Sprintf("testutil: bad status %q: %v", status, err))
		}
		resp.Header.StatusCode = &sc
	}
	if body != "" {
		resp.Body = []byte(body)
	}
	return resp
}

// ResponseType maps a request communique type to its response type.
func ResponseType(t model.CommuniqueType) model.CommuniqueType {
	if s, ok := strings.CutSuffix(string(t), "Request"); ok {
		return model.CommuniqueType(s + "Response")
	}
	return t
}

package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
)

// MockServer is a websocket endpoint that speaks the newline-delimited
// protocol, one Peer per accepted connection.
type MockServer struct {
	T      testing.TB
	Server *httptest.Server
	WsURL  string

	responder Responder
	peers     chan *Peer
}

// NewMockServer starts a server whose peers use responder. Each greeting
// line is sent as soon as a connection is accepted.
func NewMockServer(t testing.TB, responder Responder, greeting ...string) *MockServer {
	t.Helper()
	ms := &MockServer{T: t, responder: responder, peers: make(chan *Peer, 16)}

	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsconn, err := websocket.Accept(w, r, nil)
		if err != nil {
			ms.T.Logf("MockServer: accept error: %v", err)
			return
		}
		wsconn.SetReadLimit(framer.DefaultMaxLineSize)

		peer := NewPeer(t, websocket.NetConn(r.Context(), wsconn, websocket.MessageText), responder)
		for _, line := range greeting {
			if err := peer.Send(line); err != nil {
				ms.T.Logf("MockServer: greeting: %v", err)
			}
		}
		select {
		case ms.peers <- peer:
		default:
		}
		<-peer.Done()
		_ = peer.Close()
	}))
	ms.WsURL = "ws" + ms.Server.URL[len("http"):]

	t.Cleanup(ms.Close)
	return ms
}

// Peer waits for the next accepted connection.
func (ms *MockServer) Peer(timeout time.Duration) *Peer {
	ms.T.Helper()
	select {
	case peer := <-ms.peers:
		return peer
	case <-time.After(timeout):
		ms.T.Fatalf("MockServer: no connection within %v", timeout)
		return nil
	}
}

// Close stops the server.
func (ms *MockServer) Close() {
	ms.Server.Close()
}

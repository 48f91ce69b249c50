package client_test

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightforgemedia/go-leapmq/pkg/client"
	"github.com/lightforgemedia/go-leapmq/pkg/connection"
	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/events"
	"github.com/lightforgemedia/go-leapmq/pkg/framer"
	"github.com/lightforgemedia/go-leapmq/pkg/metrics"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
	"github.com/lightforgemedia/go-leapmq/pkg/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

const (
	waitTimeout = 2 * time.Second
	tick        = 5 * time.Millisecond
)

// answerAll replies 200 OK to every request, echoing the request body.
func answerAll(p *testutil.Peer, msg *model.Message) {
	_ = p.SendMessage(testutil.Reply(msg, "200 OK", string(msg.Body)))
}

func newTestClient(t *testing.T, responder testutil.Responder, opts ...client.Option) (*client.Client, *testutil.PipeProvider, *testutil.Peer) {
	t.Helper()
	provider := testutil.NewPipeProvider(t, responder)
	c, err := client.NewWithProvider(provider, append([]client.Option{client.WithLogger(testLogger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })

	require.NoError(t, c.Connect(context.Background()))
	return c, provider, provider.Peer(waitTimeout)
}

type collector struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (c *collector) add(m *model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) all() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Message(nil), c.msgs...)
}

func TestReadRoundTrip(t *testing.T) {
	c, _, peer := newTestClient(t, func(p *testutil.Peer, msg *model.Message) {
		_ = p.Send(`{"CommuniqueType":"ReadResponse","Header":{"ClientTag":"T1","MessageBodyType":"OneDeviceDefinition","StatusCode":"200 OK","Url":"/device"},"Body":{"Device":{"Name":"Bridge"}}}`)
	})

	resp, err := c.Request(context.Background(), model.ReadRequest, "/device", nil, "T1")
	require.NoError(t, err)

	written := peer.Written()
	require.Len(t, written, 1)
	wire, err := framer.Encode(written[0])
	require.NoError(t, err)
	assert.Equal(t, `{"CommuniqueType":"ReadRequest","Header":{"ClientTag":"T1","Url":"/device"}}`+"\n", string(wire))

	assert.Equal(t, model.ReadResponse, resp.CommuniqueType)
	assert.Equal(t, "T1", resp.Tag())
	assert.Equal(t, 200, resp.Header.StatusCode.Code)
	assert.Equal(t, "OneDeviceDefinition", resp.Header.MessageBodyType)
	assert.JSONEq(t, `{"Device":{"Name":"Bridge"}}`, string(resp.Body))
}

func TestUntaggedMessageIsUnsolicited(t *testing.T) {
	c, _, peer := newTestClient(t, nil)

	f, err := c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "T1")
	require.NoError(t, err)

	got := &collector{}
	c.OnUnsolicited(got.add)

	require.NoError(t, peer.Send(`{"CommuniqueType":"ReadResponse","Header":{"Url":"/zone/1/status","StatusCode":"200 OK"},"Body":{"ZoneStatus":{"Level":50}}}`))

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, waitTimeout, tick)
	assert.Equal(t, "/zone/1/status", got.all()[0].Header.Url)

	select {
	case <-f.Done():
		t.Fatal("untagged message completed a pending request")
	default:
	}
}

func TestSubscribeReceivesEveryMessage(t *testing.T) {
	c, _, peer := newTestClient(t, func(p *testutil.Peer, msg *model.Message) {
		if msg.CommuniqueType == model.SubscribeRequest {
			_ = p.SendMessage(testutil.Reply(msg, "200 OK", `{"OccupancyGroupStatuses":[]}`))
		}
	})

	handled := &collector{}
	res, err := c.Subscribe(context.Background(), "/occupancygroup/status", handled.add, "", nil, "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", res.Tag)
	assert.Equal(t, model.SubscribeResponse, res.Response.CommuniqueType)

	written := peer.Written()
	require.Len(t, written, 1)
	assert.Equal(t, model.SubscribeRequest, written[0].CommuniqueType)
	assert.Equal(t, "S1", written[0].Tag())

	require.NoError(t, peer.Send(`{"CommuniqueType":"ReadResponse","Header":{"ClientTag":"S1","StatusCode":"200 OK","Url":"/occupancygroup/status"},"Body":{"OccupancyGroupStatuses":[{"OccupancyStatus":"Occupied"}]}}`))

	require.Eventually(t, func() bool { return len(handled.all()) == 2 }, waitTimeout, tick)
	msgs := handled.all()
	assert.Same(t, res.Response, msgs[0], "handler sees the first response too")
	assert.Equal(t, model.ReadResponse, msgs[1].CommuniqueType)

	// The subscription survives further deliveries.
	require.NoError(t, peer.Send(`{"CommuniqueType":"ReadResponse","Header":{"ClientTag":"S1","Url":"/occupancygroup/status"}}`))
	require.Eventually(t, func() bool { return len(handled.all()) == 3 }, waitTimeout, tick)
}

func TestSubscribeCustomType(t *testing.T) {
	c, _, peer := newTestClient(t, answerAll)

	res, err := c.Subscribe(context.Background(), "/button/1/status/event", func(*model.Message) {}, model.UpdateRequest, map[string]any{"Mode": "x"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tag)

	written := peer.Written()
	require.Len(t, written, 1)
	assert.Equal(t, model.UpdateRequest, written[0].CommuniqueType)
	assert.JSONEq(t, `{"Mode":"x"}`, string(written[0].Body))
}

func TestRequestBeforeConnect(t *testing.T) {
	c, err := client.NewWithProvider(testutil.NewPipeProvider(t, nil), client.WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Shutdown()

	_, err = c.Request(context.Background(), model.ReadRequest, "/device", nil, "")
	assert.ErrorIs(t, err, leaperrors.ErrNotConnected)

	_, err = c.Subscribe(context.Background(), "/zone/status", func(*model.Message) {}, "", nil, "")
	assert.ErrorIs(t, err, leaperrors.ErrNotConnected)
	assert.Equal(t, connection.Disconnected, c.State())
}

func TestDuplicateTag(t *testing.T) {
	c, _, _ := newTestClient(t, nil)

	_, err := c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "T1")
	require.NoError(t, err)
	_, err = c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "T1")
	assert.ErrorIs(t, err, leaperrors.ErrDuplicateTag)
	_, err = c.Subscribe(context.Background(), "/device", func(*model.Message) {}, "", nil, "T1")
	assert.ErrorIs(t, err, leaperrors.ErrDuplicateTag)
}

func TestCloseFailsOutstandingRequests(t *testing.T) {
	c, _, peer := newTestClient(t, nil)

	f, err := c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "")
	require.NoError(t, err)

	handled := &collector{}
	subErr := make(chan error, 1)
	go func() {
		_, err := c.Subscribe(context.Background(), "/zone/status", handled.add, "", nil, "S1")
		subErr <- err
	}()
	peer.Expect(waitTimeout)
	peer.Expect(waitTimeout)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
	assert.Equal(t, connection.Disconnected, c.State())

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, leaperrors.ErrConnectionClosed)
	assert.ErrorIs(t, err, leaperrors.ErrClosedByClient)
	var closed *leaperrors.ConnectionClosedError
	assert.ErrorAs(t, err, &closed)

	select {
	case err := <-subErr:
		assert.ErrorIs(t, err, leaperrors.ErrConnectionClosed)
	case <-time.After(waitTimeout):
		t.Fatal("subscribe did not fail on close")
	}
	assert.False(t, c.Unsubscribe("S1"), "subscriptions are purged")
	assert.Empty(t, handled.all())
}

func TestReconnectStartsFresh(t *testing.T) {
	c, provider, first := newTestClient(t, answerAll)

	_, err := c.Request(context.Background(), model.ReadRequest, "/server", nil, "R1")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, c.Connect(context.Background()))
	second := provider.Peer(waitTimeout)

	// The same tag is free again on the new connection.
	resp, err := c.Request(context.Background(), model.ReadRequest, "/server", nil, "R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", resp.Tag())
	assert.Len(t, first.Written(), 1)
	assert.Len(t, second.Written(), 1)
}

func TestConnectTwiceFails(t *testing.T) {
	c, _, _ := newTestClient(t, nil)
	assert.ErrorIs(t, c.Connect(context.Background()), leaperrors.ErrAlreadyConnected)
}

func TestRequestTimeoutReleasesTag(t *testing.T) {
	c, _, peer := newTestClient(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, model.ReadRequest, "/device", nil, "T1")
	require.Error(t, err)
	assert.ErrorIs(t, err, leaperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A late response is forwarded, not matched.
	late := &collector{}
	c.OnUnsolicited(late.add)
	req := peer.Expect(waitTimeout)
	require.NoError(t, peer.SendMessage(testutil.Reply(req, "200 OK", "")))
	require.Eventually(t, func() bool { return len(late.all()) == 1 }, waitTimeout, tick)

	// And the tag can be used again.
	_, err = c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "T1")
	assert.NoError(t, err)
}

func TestSubscribeTimeoutReleasesTag(t *testing.T) {
	c, _, peer := newTestClient(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	handled := &collector{}
	_, err := c.Subscribe(ctx, "/zone/status", handled.add, "", nil, "S9")
	require.Error(t, err)
	assert.ErrorIs(t, err, leaperrors.ErrTimeout)
	assert.False(t, c.Unsubscribe("S9"), "the subscription entry is removed")

	// A late response is no longer routed to the handler.
	late := &collector{}
	c.OnUnsolicited(late.add)
	req := peer.Expect(waitTimeout)
	require.NoError(t, peer.SendMessage(testutil.Reply(req, "200 OK", "")))
	require.Eventually(t, func() bool { return len(late.all()) == 1 }, waitTimeout, tick)
	assert.Empty(t, handled.all())

	_, err = c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "S9")
	assert.NoError(t, err)
}

func TestDefaultRequestTimeout(t *testing.T) {
	c, _, _ := newTestClient(t, nil, client.WithDefaultRequestTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := c.Request(context.Background(), model.ReadRequest, "/device", nil, "")
	assert.ErrorIs(t, err, leaperrors.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCancelPendingRequest(t *testing.T) {
	c, _, _ := newTestClient(t, nil)

	f, err := c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "")
	require.NoError(t, err)
	assert.True(t, c.Cancel(f.Tag()))
	assert.False(t, c.Cancel(f.Tag()))

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, leaperrors.ErrUnregistered)
}

func TestMalformedLineDoesNotBreakConnection(t *testing.T) {
	c, _, _ := newTestClient(t, func(p *testutil.Peer, msg *model.Message) {
		_ = p.Send(`{"CommuniqueType": "ReadResponse", "Header": {"ClientTag": `)
		_ = p.SendMessage(testutil.Reply(msg, "200 OK", `{"ok":true}`))
	})

	var errs atomic.Int32
	c.On(events.Error, func(ev events.Event) {
		if errors.Is(ev.Err, leaperrors.ErrMalformedMessage) {
			errs.Add(1)
		}
	})

	resp, err := c.Request(context.Background(), model.ReadRequest, "/device", nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, connection.Connected, c.State())
	require.Eventually(t, func() bool { return errs.Load() == 1 }, waitTimeout, tick)
}

func TestPeerDisconnectFailsRequests(t *testing.T) {
	c, _, peer := newTestClient(t, nil)

	disconnected := make(chan error, 1)
	c.On(events.Disconnected, func(ev events.Event) { disconnected <- ev.Err })

	f, err := c.RequestAsync(context.Background(), model.ReadRequest, "/device", nil, "")
	require.NoError(t, err)
	peer.Expect(waitTimeout)
	require.NoError(t, peer.Close())

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, leaperrors.ErrConnectionClosed)
	assert.ErrorIs(t, err, leaperrors.ErrPeerClosed)

	select {
	case cause := <-disconnected:
		assert.ErrorIs(t, cause, leaperrors.ErrPeerClosed)
	case <-time.After(waitTimeout):
		t.Fatal("no disconnected event")
	}
	assert.Equal(t, connection.Disconnected, c.State())
}

func TestUnsubscribeIsLocal(t *testing.T) {
	c, _, peer := newTestClient(t, answerAll)

	handled := &collector{}
	res, err := c.Subscribe(context.Background(), "/zone/1/status", handled.add, "", nil, "S1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(handled.all()) == 1 }, waitTimeout, tick)

	assert.True(t, c.Unsubscribe(res.Tag))
	assert.False(t, c.Unsubscribe(res.Tag))
	assert.Len(t, peer.Written(), 1, "nothing is sent to the bridge")

	unsolicited := &collector{}
	c.OnUnsolicited(unsolicited.add)
	require.NoError(t, peer.Send(`{"CommuniqueType":"ReadResponse","Header":{"ClientTag":"S1","Url":"/zone/1/status"}}`))
	require.Eventually(t, func() bool { return len(unsolicited.all()) == 1 }, waitTimeout, tick)
	assert.Len(t, handled.all(), 1)
}

func TestHandlerPanicKeepsConnection(t *testing.T) {
	m := metrics.New()
	c, _, peer := newTestClient(t, answerAll, client.WithMetrics(m))

	_, err := c.Subscribe(context.Background(), "/zone/1/status", func(*model.Message) { panic("handler bug") }, "", nil, "S1")
	require.NoError(t, err)
	require.NoError(t, peer.Send(`{"CommuniqueType":"ReadResponse","Header":{"ClientTag":"S1","Url":"/zone/1/status"}}`))

	_, err = c.Request(context.Background(), model.ReadRequest, "/server", nil, "")
	require.NoError(t, err)
	assert.Equal(t, connection.Connected, c.State())
	require.Eventually(t, func() bool { return gathered(t, m.Registry, "leap_handler_panics_total", "") == 2 }, waitTimeout, tick)
}

func TestConcurrentRequests(t *testing.T) {
	c, _, _ := newTestClient(t, answerAll)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := map[string]int{"N": i}
			resp, err := c.Request(context.Background(), model.ReadRequest, "/zone/status", body, "")
			if err != nil {
				errs <- err
				return
			}
			var got map[string]int
			if err := resp.DecodeBody(&got); err != nil {
				errs <- err
				return
			}
			if got["N"] != i {
				errs <- fmt.Errorf("request %d got response for %d", i, got["N"])
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEventsForLifecycle(t *testing.T) {
	provider := testutil.NewPipeProvider(t, nil)
	c, err := client.NewWithProvider(provider, client.WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Shutdown()

	var connected, disconnected atomic.Int32
	c.On(events.Connected, func(events.Event) { connected.Add(1) })
	c.On(events.Disconnected, func(ev events.Event) {
		if errors.Is(ev.Err, leaperrors.ErrClosedByClient) {
			disconnected.Add(1)
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return connected.Load() == 1 && disconnected.Load() == 1 }, waitTimeout, tick)
}

func TestKeepAlive(t *testing.T) {
	var pings atomic.Int32
	c, _, _ := newTestClient(t, func(p *testutil.Peer, msg *model.Message) {
		if msg.Header.Url == client.DefaultKeepAliveURL {
			pings.Add(1)
		}
		answerAll(p, msg)
	}, client.WithKeepAlive(20*time.Millisecond, ""))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, testutil.WaitForWithContext(ctx, t, "three keepalive pings", func() bool { return pings.Load() >= 3 }))
	assert.Equal(t, connection.Connected, c.State())
}

func TestKeepAliveFailureDropsConnection(t *testing.T) {
	c, _, _ := newTestClient(t, nil, client.WithKeepAlive(20*time.Millisecond, "/server/status/ping"))

	disconnected := make(chan error, 1)
	c.On(events.Disconnected, func(ev events.Event) { disconnected <- ev.Err })

	select {
	case cause := <-disconnected:
		assert.ErrorIs(t, cause, leaperrors.ErrTimeout)
		assert.Contains(t, cause.Error(), "/server/status/ping")
	case <-time.After(waitTimeout):
		t.Fatal("unanswered keepalive did not drop the connection")
	}
	assert.Equal(t, connection.Disconnected, c.State())
}

func TestShutdown(t *testing.T) {
	c, _, _ := newTestClient(t, nil)

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())
	assert.ErrorIs(t, c.Connect(context.Background()), leaperrors.ErrShutdown)
	_, err := c.Request(context.Background(), model.ReadRequest, "/device", nil, "")
	assert.ErrorIs(t, err, leaperrors.ErrShutdown)
}

func TestMetricsCountOutcomes(t *testing.T) {
	m := metrics.New()
	c, _, peer := newTestClient(t, answerAll, client.WithMetrics(m))

	_, err := c.Request(context.Background(), model.ReadRequest, "/device", nil, "")
	require.NoError(t, err)
	require.NoError(t, peer.Send(`{"CommuniqueType":"ReadResponse","Header":{"Url":"/zone/1/status"}}`))

	require.Eventually(t, func() bool {
		return gathered(t, m.Registry, "leap_messages_received_total", "unsolicited") == 1
	}, waitTimeout, tick)
	assert.Equal(t, float64(1), gathered(t, m.Registry, "leap_messages_received_total", "one_shot"))
	assert.Equal(t, float64(1), gathered(t, m.Registry, "leap_messages_sent_total", "ReadRequest"))
	assert.Equal(t, float64(0), gathered(t, m.Registry, "leap_pending_entries", ""))
	assert.Equal(t, float64(connection.Connected), gathered(t, m.Registry, "leap_connection_state", ""))
}

// gathered returns the value of the series of name whose only label has
// labelValue, or of the unlabelled series when labelValue is empty.
func gathered(t *testing.T, reg prometheus.Gatherer, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := metric.GetLabel()
			if labelValue != "" && (len(labels) == 0 || labels[0].GetValue() != labelValue) {
				continue
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestRetrieve(t *testing.T) {
	c, _, _ := newTestClient(t, func(p *testutil.Peer, msg *model.Message) {
		switch msg.Header.Url {
		case "/device/1":
			_ = p.SendMessage(testutil.Reply(msg, "200 OK", `{"Device":{"Name":"Kitchen","SerialNumber":1234}}`))
		case "/device/404":
			_ = p.SendMessage(testutil.Reply(msg, "404 Not Found", `{"Message":"no such device"}`))
		}
	})

	type deviceBody struct {
		Device struct {
			Name         string
			SerialNumber int
		}
	}

	dev, err := client.Retrieve[deviceBody](context.Background(), c, "/device/1")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", dev.Device.Name)
	assert.Equal(t, 1234, dev.Device.SerialNumber)

	_, err = client.Retrieve[deviceBody](context.Background(), c, "/device/404")
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.Status.Code)
	assert.Equal(t, "/device/404", statusErr.URL)
}

func TestCheckStatus(t *testing.T) {
	ok := &model.Message{CommuniqueType: model.ReadResponse, Header: model.Header{StatusCode: &model.StatusCode{Code: 204}}}
	assert.NoError(t, client.CheckStatus(ok))

	exception := &model.Message{CommuniqueType: model.ExceptionResponse, Header: model.Header{Url: "/x", StatusCode: &model.StatusCode{Code: 200, Message: "OK"}}}
	assert.Error(t, client.CheckStatus(exception))

	noStatus := &model.Message{CommuniqueType: model.ReadResponse}
	assert.NoError(t, client.CheckStatus(noStatus))
}

func TestNewValidates(t *testing.T) {
	certs := testutil.NewCerts(t)

	_, err := client.New("", 8081, certs.CA, certs.ClientKey, certs.ClientCert)
	assert.Error(t, err)
	_, err = client.New("192.168.1.10", 0, certs.CA, certs.ClientKey, certs.ClientCert)
	assert.Error(t, err)
	_, err = client.New("192.168.1.10", 8081, "garbage", certs.ClientKey, certs.ClientCert)
	assert.ErrorIs(t, err, leaperrors.ErrInvalidCredentials)

	c, err := client.New("192.168.1.10", 8081, certs.CA, certs.ClientKey, certs.ClientCert)
	require.NoError(t, err)
	defer c.Shutdown()
	assert.Equal(t, connection.Disconnected, c.State())

	_, err = client.New("192.168.1.10", 8081, certs.CA, "not a key", certs.ClientCert)
	assert.ErrorIs(t, err, leaperrors.ErrInvalidCredentials)

	_, err = client.NewWithProvider(nil)
	assert.Error(t, err)
}

func TestNewWithOptions(t *testing.T) {
	opts := client.DefaultOptions()
	opts.Logger = testLogger
	opts.Provider = testutil.NewPipeProvider(t, answerAll)
	opts.DefaultRequestTimeout = time.Second

	c, err := client.NewWithOptions("", 0, "", "", "", opts)
	require.NoError(t, err)
	defer c.Shutdown()

	require.NoError(t, c.Connect(context.Background()))
	_, err = c.Request(context.Background(), model.ReadRequest, "/server", nil, "")
	assert.NoError(t, err)
}

func TestOverMutualTLS(t *testing.T) {
	certs := testutil.NewCerts(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", certs.ServerTLSConfig(t))
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			peer := testutil.NewPeer(t, conn, answerAll)
			t.Cleanup(func() { _ = peer.Close() })
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c, err := client.New("127.0.0.1", port, certs.CA, certs.ClientKey, certs.ClientCert, client.WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Shutdown()

	require.NoError(t, c.Connect(context.Background()))
	resp, err := c.Request(context.Background(), model.ReadRequest, "/server/1/status/ping", nil, "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", resp.Tag())
	assert.Equal(t, model.ReadResponse, resp.CommuniqueType)
}

func TestOverWebSocket(t *testing.T) {
	ms := testutil.NewMockServer(t, answerAll)

	c, err := client.NewWithProvider(&connection.WebSocketProvider{URL: ms.WsURL}, client.WithLogger(testLogger))
	require.NoError(t, err)
	defer c.Shutdown()

	require.NoError(t, c.Connect(context.Background()))
	resp, err := c.Request(context.Background(), model.CreateRequest, "/zone/1/commandprocessor", map[string]any{"Command": map[string]any{"CommandType": "GoToLevel"}}, "")
	require.NoError(t, err)
	assert.Equal(t, model.CreateResponse, resp.CommuniqueType)
	assert.JSONEq(t, `{"Command":{"CommandType":"GoToLevel"}}`, string(resp.Body))
}

package ship

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/shipproxy/internal/frame"
	"github.com/Polqt/shipproxy/internal/obs"
	"github.com/Polqt/shipproxy/internal/proxywire"
)

// newConnectedLinkManager wraps one end of an already-dialed pipe as the
// "current" link without running the dial/backoff loop, so worker tests
// can drive the shore side of the link directly.
func newConnectedLinkManager(conn net.Conn, m *obs.Metrics) *LinkManager {
	lm := &LinkManager{log: obs.NewLogger("test"), metrics: m}
	lm.cond = sync.NewCond(&lm.mu)
	lm.cur = &connHolder{conn: conn, link: frame.NewLink(conn), broken: make(chan struct{})}
	return lm
}

func readWithDeadline(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	got, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:got]
}

func TestWorkerProcessHTTPSuccess(t *testing.T) {
	clientConn, testClientConn := net.Pipe()
	shipSide, shoreSide := net.Pipe()
	m := obs.NewMetrics("test")
	lm := newConnectedLinkManager(shipSide, m)
	w := NewWorker(NewQueue(), lm, obs.NewLogger("test"), m)

	ex := &Exchange{ID: 1, Kind: proxywire.KindHTTP, Conn: clientConn, Raw: []byte("GET / HTTP/1.1\r\n\r\n"), done: make(chan struct{})}
	go w.process(context.Background(), ex)

	shoreLink := frame.NewLink(shoreSide)
	f, err := shoreLink.Recv()
	require.NoError(t, err)
	assert.Equal(t, frame.Request, f.Type)
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(f.Payload))

	require.NoError(t, shoreLink.Send(frame.Response, []byte("HTTP/1.1 200 OK\r\n\r\nhi")))

	got := readWithDeadline(t, testClientConn, 64)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\nhi", string(got))
	ex.Wait()
}

func TestWorkerProcessHTTPLinkSendFailure(t *testing.T) {
	clientConn, testClientConn := net.Pipe()
	shipSide, shoreSide := net.Pipe()
	shoreSide.Close()
	m := obs.NewMetrics("test")
	lm := newConnectedLinkManager(shipSide, m)
	w := NewWorker(NewQueue(), lm, obs.NewLogger("test"), m)

	ex := &Exchange{ID: 2, Kind: proxywire.KindHTTP, Conn: clientConn, Raw: []byte("GET / HTTP/1.1\r\n\r\n"), done: make(chan struct{})}
	go w.process(context.Background(), ex)

	got := readWithDeadline(t, testClientConn, 64)
	assert.Contains(t, string(got), "502")
	ex.Wait()
}

func TestWorkerProcessTunnelSuccess(t *testing.T) {
	clientConn, testClientConn := net.Pipe()
	shipSide, shoreSide := net.Pipe()
	m := obs.NewMetrics("test")
	lm := newConnectedLinkManager(shipSide, m)
	w := NewWorker(NewQueue(), lm, obs.NewLogger("test"), m)

	ex := &Exchange{ID: 3, Kind: proxywire.KindTunnel, Conn: clientConn, Target: "example.invalid:443", done: make(chan struct{})}
	go w.process(context.Background(), ex)

	shoreLink := frame.NewLink(shoreSide)
	f, err := shoreLink.Recv()
	require.NoError(t, err)
	require.Equal(t, frame.ConnectOpen, f.Type)
	assert.Equal(t, "example.invalid:443", string(f.Payload))

	require.NoError(t, shoreLink.Send(frame.ConnectOK, nil))

	got := readWithDeadline(t, testClientConn, 64)
	assert.Equal(t, "HTTP/1.1 200 Connection Established\r\n\r\n", string(got))

	// From here on the ship side may echo its own CLOSE back once the test
	// sends one; drain in the background the way the real shore dispatcher
	// would, so that write never blocks on an inattentive test.
	go func() {
		for {
			if _, err := shoreLink.Recv(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, shoreLink.Send(frame.Data, []byte("hello")))
	got = readWithDeadline(t, testClientConn, 64)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, shoreLink.Send(frame.Close, nil))

	select {
	case <-ex.done:
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not complete after tunnel CLOSE")
	}
}

func TestWorkerProcessTunnelConnectFail(t *testing.T) {
	clientConn, testClientConn := net.Pipe()
	shipSide, shoreSide := net.Pipe()
	m := obs.NewMetrics("test")
	lm := newConnectedLinkManager(shipSide, m)
	w := NewWorker(NewQueue(), lm, obs.NewLogger("test"), m)

	ex := &Exchange{ID: 4, Kind: proxywire.KindTunnel, Conn: clientConn, Target: "unreachable.invalid:443", done: make(chan struct{})}
	go w.process(context.Background(), ex)

	shoreLink := frame.NewLink(shoreSide)
	f, err := shoreLink.Recv()
	require.NoError(t, err)
	require.Equal(t, frame.ConnectOpen, f.Type)

	require.NoError(t, shoreLink.Send(frame.ConnectFail, []byte("refused")))

	got := readWithDeadline(t, testClientConn, 64)
	assert.Contains(t, string(got), "502")
	ex.Wait()
}

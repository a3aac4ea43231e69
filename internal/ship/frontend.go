package ship

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/Polqt/shipproxy/internal/obs"
	"github.com/Polqt/shipproxy/internal/proxywire"
)

// FrontEnd accepts client TCP connections, parses exactly one HTTP/1.1
// request or CONNECT per connection, and blocks the connection's
// goroutine until the worker has produced a terminal disposition. One
// request per connection keeps delivery order on the shared link tied
// directly to accept order without a keep-alive re-read loop
// complicating that guarantee.
type FrontEnd struct {
	queue   *Queue
	log     *slog.Logger
	metrics *obs.Metrics
	nextID  atomic.Uint64
}

func NewFrontEnd(queue *Queue, log *slog.Logger, metrics *obs.Metrics) *FrontEnd {
	return &FrontEnd{queue: queue, log: log, metrics: metrics}
}

// Serve accepts connections on l until it returns an error (typically
// because l was closed during shutdown).
func (f *FrontEnd) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go f.handleConn(conn)
	}
}

func (f *FrontEnd) handleConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := proxywire.Read(br)
	if err != nil {
		f.log.Warn("malformed client request", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	id := f.nextID.Add(1)
	ex := newExchange(id, req, conn)
	f.queue.Push(ex)
	f.metrics.QueueDepth.Set(float64(f.queue.Len()))

	ex.Wait()
}

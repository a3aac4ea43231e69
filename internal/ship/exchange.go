// Package ship implements the client-facing half of the proxy: the front
// end that accepts HTTP/1.1 and CONNECT from local clients, the FIFO
// queue of pending Exchanges, and the worker that drains it over the
// shared link to shore.
package ship

import (
	"net"

	"github.com/Polqt/shipproxy/internal/proxywire"
)

// Exchange is one client request awaiting completion: the accepted
// client socket, the parsed request bytes (or target host:port for
// CONNECT), a kind tag, and a completion signal. It is owned exclusively
// by the worker once dequeued.
type Exchange struct {
	ID     uint64
	Kind   proxywire.Kind
	Conn   net.Conn
	Raw    []byte // KindHTTP: request-line + headers + body, verbatim
	Target string // KindTunnel: host:port

	done chan struct{}
}

func newExchange(id uint64, req *proxywire.ClientRequest, conn net.Conn) *Exchange {
	return &Exchange{
		ID:     id,
		Kind:   req.Kind,
		Conn:   conn,
		Raw:    req.Raw,
		Target: req.Target,
		done:   make(chan struct{}),
	}
}

// MarkDone signals completion; the front end is blocked in Wait until
// this is called exactly once.
func (e *Exchange) MarkDone() {
	close(e.done)
}

// Wait blocks until the worker has finished writing terminal bytes (or
// closed the socket) for this Exchange.
func (e *Exchange) Wait() {
	<-e.done
}

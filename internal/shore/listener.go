package shore

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/Polqt/shipproxy/internal/obs"
)

// Listener accepts the ship's link connections. Only one is serviced at a
// time: a new accept pre-empts any prior connection, tearing down its
// dispatcher and any tunnel it held open.
type Listener struct {
	dispatcher *Dispatcher
	log        *slog.Logger
	metrics    *obs.Metrics

	mu     sync.Mutex
	active net.Conn
}

func NewListener(dispatcher *Dispatcher, log *slog.Logger, metrics *obs.Metrics) *Listener {
	return &Listener{dispatcher: dispatcher, log: log, metrics: metrics}
}

// Serve accepts connections on l until it returns an error (typically
// because l was closed during shutdown) or ctx is canceled.
func (s *Listener) Serve(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.preempt(conn)
		go s.handle(ctx, conn)
	}
}

func (s *Listener) preempt(newConn net.Conn) {
	s.mu.Lock()
	prev := s.active
	s.active = newConn
	s.mu.Unlock()
	if prev != nil {
		s.log.Info("new ship connection, closing previous link")
		prev.Close()
	}
}

func (s *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.log.Info("ship connected", "remote", conn.RemoteAddr())
	err := s.dispatcher.Run(ctx, conn)
	if err != nil {
		s.log.Warn("ship link ended", "remote", conn.RemoteAddr(), "error", err)
	}
	s.clearIfCurrent(conn)
}

func (s *Listener) clearIfCurrent(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == conn {
		s.active = nil
	}
}

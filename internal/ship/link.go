package ship

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Polqt/shipproxy/internal/config"
	"github.com/Polqt/shipproxy/internal/frame"
	"github.com/Polqt/shipproxy/internal/obs"
)

// Link state values for the LinkState gauge, matching the doc comment on
// obs.Metrics.LinkState.
const (
	stateDisconnected = 0
	stateConnecting   = 1
	stateConnected    = 2
)

// connHolder pairs a live TCP connection with its framed Link and a
// one-shot channel the reconnect loop waits on for invalidation.
type connHolder struct {
	conn       net.Conn
	link       *frame.Link
	broken     chan struct{}
	brokenOnce sync.Once
}

func (h *connHolder) invalidate() {
	h.brokenOnce.Do(func() { close(h.broken) })
}

// LinkManager owns the single outbound TCP connection to shore and keeps
// it alive with exponential backoff. Exactly one connHolder is "current"
// at a time; the worker calls WaitConnected before every Exchange and
// Invalidate the moment a send or recv on that link fails.
type LinkManager struct {
	addr       string
	backoffCfg config.BackoffConfig
	log        *slog.Logger
	metrics    *obs.Metrics

	mu   sync.Mutex
	cond *sync.Cond
	cur  *connHolder
}

func NewLinkManager(host string, port int, backoffCfg config.BackoffConfig, log *slog.Logger, metrics *obs.Metrics) *LinkManager {
	lm := &LinkManager{
		addr:       net.JoinHostPort(host, strconv.Itoa(port)),
		backoffCfg: backoffCfg,
		log:        log,
		metrics:    metrics,
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

// Run drives the connect/reconnect loop until ctx is canceled.
func (lm *LinkManager) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lm.backoffCfg.Initial
	b.MaxInterval = lm.backoffCfg.Max
	b.MaxElapsedTime = 0 // retry forever; the queue absorbs the backlog meanwhile
	b.Reset()            // start from the configured InitialInterval

	for ctx.Err() == nil {
		lm.setState(stateConnecting)
		conn, err := net.DialTimeout("tcp", lm.addr, 10*time.Second)
		if err != nil {
			lm.log.Warn("offshore dial failed", "addr", lm.addr, "error", err)
			lm.setState(stateDisconnected)
			d := b.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
			continue
		}
		b.Reset()

		holder := &connHolder{conn: conn, link: frame.NewLink(conn), broken: make(chan struct{})}
		lm.mu.Lock()
		lm.cur = holder
		lm.cond.Broadcast()
		lm.mu.Unlock()
		lm.setState(stateConnected)
		lm.log.Info("offshore link connected", "addr", lm.addr)

		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-holder.broken:
			lm.metrics.ReconnectTotal.Inc()
			lm.setState(stateDisconnected)
			lm.log.Warn("offshore link lost, reconnecting", "addr", lm.addr)
		}
	}
}

// WaitConnected blocks until a link is current, returning it, or until ctx
// is done. A background goroutine turns ctx cancellation into a broadcast
// so the waiter isn't stuck in cond.Wait past the caller giving up.
func (lm *LinkManager) WaitConnected(ctx context.Context) (*frame.Link, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			lm.mu.Lock()
			lm.cond.Broadcast()
			lm.mu.Unlock()
		case <-stop:
		}
	}()

	lm.mu.Lock()
	defer lm.mu.Unlock()
	for lm.cur == nil && ctx.Err() == nil {
		lm.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return lm.cur.link, nil
}

// Invalidate marks bad as dead if it is still the current link, waking
// the reconnect loop. A no-op if bad is no longer current (already
// invalidated, or replaced by a newer connection).
func (lm *LinkManager) Invalidate(bad *frame.Link) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.cur != nil && lm.cur.link == bad {
		holder := lm.cur
		lm.cur = nil
		holder.conn.Close()
		holder.invalidate()
	}
}

func (lm *LinkManager) setState(v float64) {
	lm.metrics.LinkState.Set(v)
}

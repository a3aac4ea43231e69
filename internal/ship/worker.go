package ship

import (
	"context"
	"log/slog"
	"time"

	"github.com/Polqt/shipproxy/internal/frame"
	"github.com/Polqt/shipproxy/internal/obs"
	"github.com/Polqt/shipproxy/internal/proxywire"
	"github.com/Polqt/shipproxy/internal/pump"
)

const (
	badGatewayResponse = "HTTP/1.1 502 Bad Gateway\r\nConnection: close\r\n\r\n"
	connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"
)

// Worker is the single consumer draining the Queue, the enforcement point
// for strict FIFO ordering: one Exchange is in flight on the shared link
// at a time, start to finish.
type Worker struct {
	queue *Queue
	link  *LinkManager
	log   *slog.Logger
	m     *obs.Metrics
}

func NewWorker(queue *Queue, link *LinkManager, log *slog.Logger, metrics *obs.Metrics) *Worker {
	return &Worker{queue: queue, link: link, log: log, m: metrics}
}

// Run pops Exchanges and processes them until the queue is closed and
// drained. It deliberately does not bail out the moment ctx is canceled:
// shutdown closes the queue but still wants the backlog drained
// best-effort, so the loop's only exit is Pop returning nil.
func (w *Worker) Run(ctx context.Context) {
	for {
		ex := w.queue.Pop()
		if ex == nil {
			return
		}
		w.m.QueueDepth.Set(float64(w.queue.Len()))
		w.process(ctx, ex)
	}
}

func (w *Worker) process(ctx context.Context, ex *Exchange) {
	defer ex.MarkDone()

	switch ex.Kind {
	case proxywire.KindHTTP:
		w.processHTTP(ctx, ex)
	case proxywire.KindTunnel:
		w.processTunnel(ctx, ex)
	}
}

func (w *Worker) processHTTP(ctx context.Context, ex *Exchange) {
	link, err := w.link.WaitConnected(ctx)
	if err != nil {
		w.fail(ex, "shutdown")
		return
	}

	start := time.Now()
	if err := link.Send(frame.Request, ex.Raw); err != nil {
		w.link.Invalidate(link)
		w.log.Warn("send request failed", "exchange", ex.ID, "error", err)
		w.fail(ex, "link_send")
		return
	}

	for {
		f, err := link.Recv()
		if err != nil {
			w.link.Invalidate(link)
			w.log.Warn("recv response failed", "exchange", ex.ID, "error", err)
			w.fail(ex, "link_recv")
			return
		}
		switch f.Type {
		case frame.Response:
			w.m.FrameLatency.WithLabelValues(frame.Request.String()).Observe(time.Since(start).Seconds())
			if _, werr := ex.Conn.Write(f.Payload); werr != nil {
				w.log.Warn("write response to client failed", "exchange", ex.ID, "error", werr)
			}
			w.m.ExchangesTotal.WithLabelValues("http").Inc()
			return
		default:
			w.link.Invalidate(link)
			w.log.Warn("unexpected frame awaiting response", "exchange", ex.ID, "type", f.Type)
			w.fail(ex, "protocol")
			return
		}
	}
}

func (w *Worker) processTunnel(ctx context.Context, ex *Exchange) {
	link, err := w.link.WaitConnected(ctx)
	if err != nil {
		w.fail(ex, "shutdown")
		return
	}

	if err := link.Send(frame.ConnectOpen, []byte(ex.Target)); err != nil {
		w.link.Invalidate(link)
		w.fail(ex, "link_send")
		return
	}

	f, err := link.Recv()
	if err != nil {
		w.link.Invalidate(link)
		w.fail(ex, "link_recv")
		return
	}

	switch f.Type {
	case frame.ConnectOK:
		if _, werr := ex.Conn.Write([]byte(connectEstablished)); werr != nil {
			w.log.Warn("write CONNECT established failed", "exchange", ex.ID, "error", werr)
			return
		}
		w.m.TunnelsActive.Inc()
		defer w.m.TunnelsActive.Dec()

		onBytes := func(direction string, n int) { w.m.TunnelBytes.WithLabelValues(direction).Add(float64(n)) }
		if err := pump.Run(ctx, ex.Conn, link, onBytes); err != nil {
			w.link.Invalidate(link)
			w.log.Warn("tunnel pump ended with link failure", "exchange", ex.ID, "error", err)
		}
		w.m.ExchangesTotal.WithLabelValues("tunnel").Inc()
	case frame.ConnectFail:
		_, _ = ex.Conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nConnection: close\r\n\r\n"))
		w.m.ExchangeFailures.WithLabelValues("connect_fail").Inc()
	default:
		w.link.Invalidate(link)
		w.log.Warn("unexpected frame awaiting CONNECT reply", "exchange", ex.ID, "type", f.Type)
		w.fail(ex, "protocol")
	}
}

// fail counts the failure and writes a synthesized 502 to the client; for
// reason "shutdown" it writes nothing. Called only when no bytes of a real
// response have reached the client yet.
func (w *Worker) fail(ex *Exchange, reason string) {
	w.m.ExchangeFailures.WithLabelValues(reason).Inc()
	if reason == "shutdown" {
		return
	}
	if _, err := ex.Conn.Write([]byte(badGatewayResponse)); err != nil {
		w.log.Warn("write synthesized 502 failed", "exchange", ex.ID, "error", err)
	}
}

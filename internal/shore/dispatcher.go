// Package shore implements the remote peer: it accepts the single ship
// connection, translates framed REQUEST/CONNECT_OPEN messages back into
// real HTTP(S) traffic, and streams results back over the same link.
package shore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/Polqt/shipproxy/internal/config"
	"github.com/Polqt/shipproxy/internal/frame"
	"github.com/Polqt/shipproxy/internal/obs"
	"github.com/Polqt/shipproxy/internal/proxywire"
	"github.com/Polqt/shipproxy/internal/pump"
)

// Dispatcher owns one ship connection's worth of link traffic: the
// single-reader loop reading frames in order and, for each, either
// executing an HTTP fetch or opening a CONNECT tunnel. A tunnel holds the
// link exclusively until it ends, matching the ship worker's own
// one-Exchange-in-flight contract.
type Dispatcher struct {
	cfg     *config.Shore
	log     *slog.Logger
	metrics *obs.Metrics
	client  *http.Client
}

func NewDispatcher(cfg *config.Shore, log *slog.Logger, metrics *obs.Metrics) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Run reads frames from conn until the link fails or ctx is canceled;
// canceling ctx closes conn, so a blocked read ends too. Its error return
// always means the link is dead; the caller's accept loop should drop this
// connection and wait for the ship to reconnect.
func (d *Dispatcher) Run(ctx context.Context, conn net.Conn) error {
	link := frame.NewLink(conn)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := link.Recv()
		if err != nil {
			return fmt.Errorf("shore: recv: %w", err)
		}

		switch f.Type {
		case frame.Request:
			if err := d.handleRequest(ctx, link, f.Payload); err != nil {
				return err
			}
		case frame.ConnectOpen:
			if err := d.handleConnect(ctx, link, string(f.Payload)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("shore: unexpected frame %s: %w", f.Type, frame.ErrProtocol)
		}
	}
}

// handleRequest executes one HTTP fetch and sends its RESPONSE frame.
// Upstream failures (dial error, timeout, malformed request bytes) are
// turned into synthesized HTTP error responses, not link errors — only a
// failure to send the frame itself is a link error.
func (d *Dispatcher) handleRequest(ctx context.Context, link *frame.Link, raw []byte) error {
	respBytes, statusClass := d.execute(ctx, raw)
	d.metrics.UpstreamStatus.WithLabelValues(statusClass).Inc()
	return link.Send(frame.Response, respBytes)
}

func (d *Dispatcher) execute(ctx context.Context, raw []byte) ([]byte, string) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		d.log.Warn("malformed request from ship", "error", err)
		return synthesize(http.StatusBadGateway, "Bad Gateway"), "5xx"
	}

	target, err := proxywire.ResolveTarget(req)
	if err != nil {
		d.log.Warn("cannot resolve target", "error", err)
		return synthesize(http.StatusBadGateway, "Bad Gateway"), "5xx"
	}

	proxywire.StripHopByHop(req.Header)
	req.RequestURI = ""
	req.URL = target
	req = req.WithContext(ctx)

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			d.log.Warn("upstream timeout", "target", target, "error", err)
			return synthesize(http.StatusGatewayTimeout, "Gateway Timeout"), "5xx"
		}
		d.log.Warn("upstream fetch failed", "target", target, "error", err)
		return synthesize(http.StatusBadGateway, "Bad Gateway"), "5xx"
	}
	defer resp.Body.Close()

	proxywire.StripHopByHop(resp.Header)

	var buf bytes.Buffer
	if err := resp.Write(&buf); err != nil {
		d.log.Warn("serialize upstream response failed", "error", err)
		return synthesize(http.StatusBadGateway, "Bad Gateway"), "5xx"
	}
	return buf.Bytes(), statusClassOf(resp.StatusCode)
}

// handleConnect dials the CONNECT target and, on success, relays bytes
// until the tunnel ends. Its error return, like pump.Run's, always means
// the shared link died.
func (d *Dispatcher) handleConnect(ctx context.Context, link *frame.Link, target string) error {
	conn, err := net.DialTimeout("tcp", target, d.cfg.ConnectTimeout)
	if err != nil {
		d.log.Warn("connect dial failed", "target", target, "error", err)
		return link.Send(frame.ConnectFail, []byte(err.Error()))
	}

	if err := link.Send(frame.ConnectOK, nil); err != nil {
		conn.Close()
		return err
	}

	d.metrics.TunnelsActive.Inc()
	defer d.metrics.TunnelsActive.Dec()

	onBytes := func(direction string, n int) {
		d.metrics.TunnelBytes.WithLabelValues(direction).Add(float64(n))
	}
	return pump.Run(ctx, conn, link, onBytes)
}

func synthesize(code int, reason string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n", code, reason))
}

func statusClassOf(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Package obs wires up the ambient observability stack shared by both
// peers: structured logging and the Prometheus metrics exposed on each
// peer's admin endpoint.
package obs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewLogger builds the process-wide structured logger. Both binaries use
// one JSON handler to stderr; fields like exchange id are passed as
// key/value pairs at call sites, not baked in here.
func NewLogger(component string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h).With("component", component)
}

// Metrics collects the counters and histograms both peers report. It is
// a thin registry wrapper: callers reach for the named field directly
// rather than through a generic Record(name, n) call, so label
// cardinality stays fixed and known at registration time.
type Metrics struct {
	registry *prometheus.Registry

	ExchangesTotal   *prometheus.CounterVec // labels: kind={http,tunnel}
	ExchangeFailures *prometheus.CounterVec // labels: reason
	QueueDepth       prometheus.Gauge
	LinkState        prometheus.Gauge // 0=disconnected 1=connecting 2=connected
	ReconnectTotal   prometheus.Counter
	FrameLatency     *prometheus.HistogramVec // labels: type
	UpstreamStatus   *prometheus.CounterVec   // labels: status_class
	TunnelsActive    prometheus.Gauge
	TunnelBytes      *prometheus.CounterVec // labels: direction
}

// NewMetrics registers a fresh metric set. Each peer owns exactly one.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exchanges_total", Help: "Exchanges completed, by kind.",
		}, []string{"kind"}),
		ExchangeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exchange_failures_total", Help: "Exchanges that ended in an error disposition, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Pending exchanges not yet dequeued by the worker.",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "link_state", Help: "Shared link state: 0=disconnected 1=connecting 2=connected.",
		}),
		ReconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnect_total", Help: "Times the shared link was lost and the reconnect loop restarted.",
		}),
		FrameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "frame_round_trip_seconds", Help: "Time from sending a frame to its terminal reply, by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		UpstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_responses_total", Help: "Shore-side upstream HTTP responses, by status class.",
		}, []string{"status_class"}),
		TunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tunnels_active", Help: "CONNECT tunnels currently open.",
		}),
		TunnelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tunnel_bytes_total", Help: "Bytes relayed through tunnels, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.ExchangesTotal, m.ExchangeFailures, m.QueueDepth, m.LinkState,
		m.ReconnectTotal, m.FrameLatency, m.UpstreamStatus, m.TunnelsActive, m.TunnelBytes,
	)
	return m
}

// Handler returns the /metrics and /healthz handlers this peer's admin
// server mounts.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// ServeAdmin runs the admin HTTP server until ctx is canceled. A listen
// failure (e.g. port in use) is returned as an error; it never touches the
// Exchange lifecycle.
func ServeAdmin(ctx context.Context, addr string, m *Metrics, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: m.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin server shutdown", "error", err)
		}
		return nil
	}
}

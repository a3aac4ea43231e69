package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/shipproxy/internal/obs"
)

func TestMetricsHandlerHealthz(t *testing.T) {
	m := obs.NewMetrics("obstest")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsHandlerExposesRegisteredMetrics(t *testing.T) {
	m := obs.NewMetrics("obstest2")
	m.ExchangesTotal.WithLabelValues("http").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeAdminShutsDownOnContextCancel(t *testing.T) {
	m := obs.NewMetrics("obstest3")
	log := obs.NewLogger("test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- obs.ServeAdmin(ctx, "127.0.0.1:0", m, log) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeAdmin did not return after context cancel")
	}
}

package proxywire_test

import (
	"bufio"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/shipproxy/internal/proxywire"
)

func TestReadPlainGET(t *testing.T) {
	raw := "GET /hello HTTP/1.1\r\nHost: example.invalid\r\n\r\n"
	req, err := proxywire.Read(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, proxywire.KindHTTP, req.Kind)
	assert.Equal(t, raw, string(req.Raw))
}

func TestReadRequestWithBody(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: example.invalid\r\nContent-Length: 5\r\n\r\nhello"
	req, err := proxywire.Read(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, raw, string(req.Raw))
}

func TestReadChunkedBody(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: example.invalid\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	req, err := proxywire.Read(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, raw, string(req.Raw))
}

func TestReadConnect(t *testing.T) {
	raw := "CONNECT example.invalid:443 HTTP/1.1\r\nHost: example.invalid:443\r\n\r\n"
	req, err := proxywire.Read(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, proxywire.KindTunnel, req.Kind)
	assert.Equal(t, "example.invalid:443", req.Target)
}

func TestReadMalformedRequestLine(t *testing.T) {
	_, err := proxywire.Read(bufio.NewReader(strings.NewReader("not a request\r\n\r\n")))
	require.Error(t, err)
}

func TestReadConnectWithoutPort(t *testing.T) {
	raw := "CONNECT example.invalid HTTP/1.1\r\nHost: example.invalid\r\n\r\n"
	_, err := proxywire.Read(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
}

func TestStripHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Proxy-Authorization", "Basic x")
	h.Set("Content-Type", "text/plain")
	proxywire.StripHopByHop(h)
	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("Proxy-Authorization"))
	assert.Equal(t, "text/plain", h.Get("Content-Type"))
}

func TestResolveTargetAbsoluteForm(t *testing.T) {
	req, err := http.NewRequest("GET", "http://example.invalid/hello", nil)
	require.NoError(t, err)
	u, err := proxywire.ResolveTarget(req)
	require.NoError(t, err)
	assert.Equal(t, "http://example.invalid/hello", u.String())
}

func TestResolveTargetOriginFormUsesHostHeader(t *testing.T) {
	req, err := http.NewRequest("GET", "/hello", nil)
	require.NoError(t, err)
	req.Host = "example.invalid"
	u, err := proxywire.ResolveTarget(req)
	require.NoError(t, err)
	assert.Equal(t, "http://example.invalid/hello", u.String())
}

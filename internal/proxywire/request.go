// Package proxywire reads client requests off the wire verbatim and
// reconstructs real HTTP exchanges from the frames the ship sends.
package proxywire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind distinguishes a plain HTTP exchange from a CONNECT tunnel.
type Kind int

const (
	KindHTTP Kind = iota
	KindTunnel
)

// ErrMalformed marks a request line the front end could not parse; the
// caller closes the client socket immediately with no enqueue.
var ErrMalformed = fmt.Errorf("proxywire: malformed request")

// ClientRequest is what the ship front end hands to the worker: either the
// raw bytes of an HTTP/1.1 request (request-line through body, verbatim),
// or a CONNECT target.
type ClientRequest struct {
	Kind   Kind
	Raw    []byte // request-line + headers + body, as read; KindHTTP only
	Target string // host:port; KindTunnel only
}

// Read parses exactly one request off br. It reads only as much as needed
// to find the end of the request (request line, headers, and body per
// Content-Length/Transfer-Encoding); it never inspects the body's content.
func Read(br *bufio.Reader) (*ClientRequest, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	method, target, proto, ok := splitRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	if !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrMalformed, proto)
	}

	if method == "CONNECT" {
		if err := discardHeaders(br); err != nil {
			return nil, err
		}
		if !strings.Contains(target, ":") {
			return nil, fmt.Errorf("%w: CONNECT target %q has no port", ErrMalformed, target)
		}
		return &ClientRequest{Kind: KindTunnel, Target: target}, nil
	}

	var buf bytes.Buffer
	buf.WriteString(line)

	contentLength := -1
	chunked := false
	for {
		hline, err := readLine(br)
		if err != nil {
			return nil, err
		}
		buf.WriteString(hline)
		trimmed := strings.TrimRight(hline, "\r\n")
		if trimmed == "" {
			break
		}
		name, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "content-length":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				contentLength = n
			}
		case "transfer-encoding":
			if strings.Contains(strings.ToLower(value), "chunked") {
				chunked = true
			}
		}
	}

	switch {
	case chunked:
		if err := copyChunkedBody(br, &buf); err != nil {
			return nil, err
		}
	case contentLength > 0:
		if _, err := io.CopyN(&buf, br, int64(contentLength)); err != nil {
			return nil, fmt.Errorf("proxywire: read body: %w", err)
		}
	}

	return &ClientRequest{Kind: KindHTTP, Raw: buf.Bytes()}, nil
}

func splitRequestLine(line string) (method, target, proto string, ok bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(trimmed, " ", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("proxywire: read line: %w", err)
	}
	return line, nil
}

func discardHeaders(br *bufio.Reader) error {
	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// copyChunkedBody copies a chunked transfer-encoded body verbatim,
// including chunk-size lines, chunk data, and the trailing zero-chunk plus
// any trailer headers, so the bytes the shore receives are exactly what
// the client sent.
func copyChunkedBody(br *bufio.Reader, buf *bytes.Buffer) error {
	for {
		sizeLine, err := readLine(br)
		if err != nil {
			return err
		}
		buf.WriteString(sizeLine)

		sizeField := strings.TrimRight(sizeLine, "\r\n")
		if i := strings.IndexByte(sizeField, ';'); i >= 0 {
			sizeField = sizeField[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil {
			return fmt.Errorf("%w: chunk size %q", ErrMalformed, sizeField)
		}

		if size == 0 {
			// Trailer headers (possibly none), terminated by a blank line.
			return discardHeadersInto(br, buf)
		}

		if _, err := io.CopyN(buf, br, size); err != nil {
			return fmt.Errorf("proxywire: read chunk: %w", err)
		}
		crlf, err := readLine(br)
		if err != nil {
			return err
		}
		buf.WriteString(crlf)
	}
}

func discardHeadersInto(br *bufio.Reader, buf *bytes.Buffer) error {
	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		buf.WriteString(line)
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// Package pump implements the bidirectional tunnel relay shared by both
// peers: read from the local socket, package bytes into DATA frames on
// the link; read DATA frames from the link, write them to the local
// socket. The link is exclusive to one tunnel for its lifetime.
package pump

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Polqt/shipproxy/internal/frame"
)

// OnBytes is called after each chunk is relayed, direction is "in"
// (link → local) or "out" (local → link). Metrics wiring uses this; it
// may be nil.
type OnBytes func(direction string, n int)

// Run pumps bytes between local and link until one of: local EOF, a local
// I/O error, or a CLOSE frame arrives. Whichever side notices first sends
// a single CLOSE frame (if it hasn't already) and closes local; the peer
// tolerates receiving a CLOSE before it has sent its own and echoes one
// back so both relay goroutines — on both peers — unwind.
//
// A non-nil return means the shared link itself failed (recv/send error
// or a protocol violation), not merely that the tunnel ended; the caller
// should treat that as a dead link requiring reconnect.
func Run(ctx context.Context, local io.ReadWriteCloser, link *frame.Link, onBytes OnBytes) error {
	g, ctx := errgroup.WithContext(ctx)

	var closeSent sync.Once
	var closeSendErr error
	sendClose := func() error {
		closeSent.Do(func() { closeSendErr = link.Send(frame.Close, nil) })
		return closeSendErr
	}
	var localClosed sync.Once
	stop := func() { localClosed.Do(func() { _ = local.Close() }) }

	g.Go(func() error {
		defer stop()
		return pumpLocalToLink(ctx, local, link, sendClose, onBytes)
	})
	g.Go(func() error {
		defer stop()
		return pumpLinkToLocal(ctx, local, link, sendClose, onBytes)
	})

	return g.Wait()
}

// pumpLocalToLink relays local → link. A local EOF/error ends the tunnel
// normally (nil); a failure to write the link is the shared link dying.
func pumpLocalToLink(ctx context.Context, local io.Reader, link *frame.Link, sendClose func() error, onBytes OnBytes) error {
	buf := make([]byte, frame.DataChunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := local.Read(buf)
		if n > 0 {
			if serr := link.Send(frame.Data, buf[:n]); serr != nil {
				return fmt.Errorf("pump: send data: %w", serr)
			}
			if onBytes != nil {
				onBytes("out", n)
			}
		}
		if err != nil {
			if serr := sendClose(); serr != nil {
				return fmt.Errorf("pump: send close: %w", serr)
			}
			return nil
		}
	}
}

// pumpLinkToLocal relays link → local. A recv error or protocol violation
// is the shared link dying and must propagate; a local write failure or a
// received CLOSE ends the tunnel normally (nil).
func pumpLinkToLocal(ctx context.Context, local io.Writer, link *frame.Link, sendClose func() error, onBytes OnBytes) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := link.Recv()
		if err != nil {
			return fmt.Errorf("pump: recv: %w", err)
		}
		switch f.Type {
		case frame.Data:
			if _, werr := local.Write(f.Payload); werr != nil {
				_ = sendClose()
				return nil
			}
			if onBytes != nil {
				onBytes("in", len(f.Payload))
			}
		case frame.Close:
			_ = sendClose()
			return nil
		default:
			return fmt.Errorf("pump: unexpected frame %s: %w", f.Type, frame.ErrProtocol)
		}
	}
}

package shore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerPreemptsPriorConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	d := testDispatcher(t, nil)
	sl := NewListener(d, d.log, d.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sl.Serve(ctx, ln)

	conn1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()
	time.Sleep(50 * time.Millisecond)

	conn2, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()
	time.Sleep(50 * time.Millisecond)

	conn1.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn1.Read(buf)
	require.Error(t, err, "prior ship connection should have been closed by preemption")

	conn2.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err = conn2.Read(buf)
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected new connection to still be open (read timeout), got %v", err)
	}
}

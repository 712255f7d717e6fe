package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawServer accepts one connection and hands it to handle.
func rawServer(t *testing.T, handle func(net.Conn)) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestClient_EchoAgainstServer(t *testing.T) {
	server, _ := startServer(t, ServerConfig{Mode: ModeExplicit})
	diag := &recordingDiagnostics{}
	client := NewClient(ClientConfig{
		Mode: ModeExplicit,
		Host: "127.0.0.1",
		Port: server.Addr().(*net.TCPAddr).Port,
	}, WithClientDiagnostics(diag))

	res, err := client.Echo(context.Background(), []byte(DefaultMessage))
	require.NoError(t, err)
	assert.True(t, res.Matches())
	assert.Equal(t, "AF_INET", res.Socket.Family)
	assert.NotEmpty(t, res.SessionID)

	events := diag.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "connected", events[0])
	assert.Equal(t, "sent:"+DefaultMessage, events[1])
	assert.Equal(t, "closed", events[len(events)-1])
}

func TestClient_WildcardIsRejected(t *testing.T) {
	client := NewClient(ClientConfig{Mode: ModeWildcard, Port: 10000})

	_, err := client.Echo(context.Background(), []byte("x"))
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr), "got %v", err)
	assert.ErrorIs(t, err, ErrWildcardDial)
}

// unresolvable host: no connection is attempted
func TestClient_UnresolvableHost(t *testing.T) {
	client := NewClient(ClientConfig{Mode: ModeExplicit, Host: "does-not-exist.invalid", Port: 10000})

	_, err := client.Echo(context.Background(), []byte(DefaultMessage))
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr), "got %v", err)

	var connErr *ConnectionError
	assert.False(t, errors.As(err, &connErr))
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(ClientConfig{
		Mode:    ModeExplicit,
		Host:    "127.0.0.1",
		Port:    freePort(t),
		Timeout: time.Second,
	})

	_, err := client.Echo(context.Background(), []byte("x"))
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.Contains(t, connErr.Addr, "127.0.0.1:")
}

func TestClient_ShortEcho(t *testing.T) {
	port := rawServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
		conn.Write([]byte("This is th"))
	})
	client := NewClient(ClientConfig{Mode: ModeExplicit, Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second})

	_, err := client.Echo(context.Background(), []byte(DefaultMessage))
	var tErr *TransmissionError
	require.True(t, errors.As(err, &tErr), "got %v", err)
	assert.ErrorIs(t, err, ErrShortEcho)
	assert.Contains(t, err.Error(), "got 10 of 44 bytes")
}

func TestClient_ContextCancelUnblocksReceive(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	port := rawServer(t, func(conn net.Conn) {
		<-hold // never answer
	})
	client := NewClient(ClientConfig{Mode: ModeExplicit, Host: "127.0.0.1", Port: port})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Echo(ctx, []byte("anyone there?"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_EmptyMessage(t *testing.T) {
	server, _ := startServer(t, ServerConfig{Mode: ModeExplicit})

	res, err := clientFor(server, DefaultChunkSize).Echo(context.Background(), []byte{})
	require.NoError(t, err)
	assert.Empty(t, res.Received)
	assert.Empty(t, res.Chunks)
	assert.True(t, res.Matches())

	require.Eventually(t, func() bool { return server.Manager.Totals().Sessions == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), server.Manager.Totals().Failed)
}

func TestClient_Probe(t *testing.T) {
	server, _ := startServer(t, ServerConfig{Mode: ModeExplicit})

	info, err := clientFor(server, DefaultChunkSize).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AF_INET", info.Family)
	assert.Equal(t, "SOCK_STREAM", info.Type)
	assert.Equal(t, "IPPROTO_TCP", info.Protocol)
	assert.Equal(t, server.Addr().String(), info.Remote)
}

// peerGone keeps writing to conn until the other side's full close makes a
// write fail, or gives up after limit.
func peerGone(conn net.Conn, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		if _, err := conn.Write([]byte{0}); err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestClient_ClosesSocketBeforeReceiveError(t *testing.T) {
	echoReturned := make(chan struct{})
	released := make(chan bool, 1)
	port := rawServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn) // until the client's half-close
		<-echoReturned
		released <- peerGone(conn, 2*time.Second)
	})
	client := NewClient(ClientConfig{Mode: ModeExplicit, Host: "127.0.0.1", Port: port, Timeout: 200 * time.Millisecond})

	_, err := client.Echo(context.Background(), []byte(DefaultMessage))
	close(echoReturned)

	var tErr *TransmissionError
	require.True(t, errors.As(err, &tErr), "got %v", err)
	assert.Equal(t, "receive", tErr.Op)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, <-released, "client socket still open after Echo returned")
}

func TestClient_ClosesSocketBeforeSendError(t *testing.T) {
	echoReturned := make(chan struct{})
	drained := make(chan error, 1)
	port := rawServer(t, func(conn net.Conn) {
		<-echoReturned // read nothing until the client has given up
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := io.Copy(io.Discard, conn)
		drained <- err
	})
	client := NewClient(ClientConfig{Mode: ModeExplicit, Host: "127.0.0.1", Port: port, Timeout: 200 * time.Millisecond})

	// larger than both socket buffers so the write stalls
	_, err := client.Echo(context.Background(), make([]byte, 64<<20))
	close(echoReturned)

	var tErr *TransmissionError
	require.True(t, errors.As(err, &tErr), "got %v", err)
	assert.Equal(t, "send", tErr.Op)
	assert.Less(t, tErr.Sent, 64<<20)

	// the client never half-closed, so EOF here means it fully closed
	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server never saw the client close")
	}
}

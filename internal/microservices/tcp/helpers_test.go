package tcp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingDiagnostics keeps a flat, ordered log of events.
type recordingDiagnostics struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingDiagnostics) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingDiagnostics) Started(string)        { r.add("started") }
func (r *recordingDiagnostics) Waiting()              { r.add("waiting") }
func (r *recordingDiagnostics) Connected(SocketInfo)  { r.add("connected") }
func (r *recordingDiagnostics) Closed(string, string) { r.add("closed") }

func (r *recordingDiagnostics) Chunk(ev ChunkEvent) {
	switch {
	case ev.Direction == DirectionReceived && len(ev.Payload) == 0:
		r.add("eof")
	case ev.Direction == DirectionReceived:
		r.add("received:" + string(ev.Payload))
	default:
		r.add("sent:" + string(ev.Payload))
	}
}

func (r *recordingDiagnostics) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// without drops the given event names.
func without(events []string, drop ...string) []string {
	out := make([]string, 0, len(events))
next:
	for _, e := range events {
		for _, d := range drop {
			if e == d {
				continue next
			}
		}
		out = append(out, e)
	}
	return out
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startServer binds on a free loopback port and serves in the background.
// The server is stopped when the test ends.
func startServer(t *testing.T, cfg ServerConfig, opts ...ServerOption) (*EchoServer, <-chan error) {
	t.Helper()
	if cfg.Port == 0 {
		cfg.Port = freePort(t)
	}
	if cfg.Mode == ModeExplicit && cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	s := NewServer(cfg, opts...)
	require.NoError(t, s.Listen(context.Background()))

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- s.Serve(context.Background())
		close(done)
	}()

	t.Cleanup(func() {
		s.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return s, errCh
}

func clientFor(s *EchoServer, chunk int) *EchoClient {
	return NewClient(ClientConfig{
		Mode:      ModeExplicit,
		Host:      "127.0.0.1",
		Port:      s.Addr().(*net.TCPAddr).Port,
		ChunkSize: chunk,
		Timeout:   2 * time.Second,
	})
}

package tcp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DefaultMessage is what the CLI sends when no message is given.
const DefaultMessage = "This is the message.  It will be repeated."

type ClientConfig struct {
	Mode      Mode // loopback or explicit
	Host      string
	Port      int
	ChunkSize int
	Timeout   time.Duration // dial and per-I/O; 0 blocks forever
}

type ClientOption func(*EchoClient)

func WithClientDiagnostics(d Diagnostics) ClientOption {
	return func(c *EchoClient) {
		if d != nil {
			c.diag = d
		}
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *EchoClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// EchoClient sends one message per call and waits for all of it to come back.
type EchoClient struct {
	cfg    ClientConfig
	diag   Diagnostics
	logger *slog.Logger
}

func NewClient(cfg ClientConfig, opts ...ClientOption) *EchoClient {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	c := &EchoClient{
		cfg:    cfg,
		diag:   NopDiagnostics{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EchoResult holds what was sent and the chunks that came back, in order.
// Chunk boundaries are whatever the transport produced.
type EchoResult struct {
	SessionID string
	Socket    SocketInfo
	Sent      []byte
	Received  []byte
	Chunks    [][]byte
	Duration  time.Duration
}

func (r *EchoResult) Matches() bool { return bytes.Equal(r.Sent, r.Received) }

// Dial resolves the server address and connects. Wildcard mode is rejected
// with a *ResolutionError, dial failures are *ConnectionError.
func (c *EchoClient) Dial(ctx context.Context) (*Connection, error) {
	if c.cfg.Mode == ModeWildcard {
		return nil, &ResolutionError{Host: c.cfg.Host, Port: c.cfg.Port, Err: ErrWildcardDial}
	}
	addr, err := Resolve(ctx, c.cfg.Mode, c.cfg.Host, c.cfg.Port)
	if err != nil {
		return nil, err
	}
	target, err := addr.DialAddr()
	if err != nil {
		return nil, &ResolutionError{Host: addr.Host, Port: addr.Port, Err: err}
	}

	c.logger.Info("connecting", "addr", addr.String())
	d := net.Dialer{Timeout: c.cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, &ConnectionError{Addr: target, Err: err}
	}
	return NewConnection(raw, c.diag, c.cfg.Timeout), nil
}

// Probe connects, reports the socket's family/type/protocol and closes.
func (c *EchoClient) Probe(ctx context.Context) (SocketInfo, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return SocketInfo{}, err
	}
	defer conn.Close()
	info := conn.Info()
	c.diag.Connected(info)
	c.diag.Closed(conn.ID, "probe done")
	return info, nil
}

// Echo sends message and reads until len(message) bytes have come back.
// The connection is closed on every return path, before any error is
// returned to the caller.
func (c *EchoClient) Echo(ctx context.Context, message []byte) (*EchoResult, error) {
	start := time.Now()
	conn, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	info := conn.Info()
	c.diag.Connected(info)
	closeReason := "done"
	defer func() { c.diag.Closed(conn.ID, closeReason) }()

	// unblock reads and writes when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	res := &EchoResult{
		SessionID: conn.ID,
		Socket:    info,
		Sent:      message,
		Received:  make([]byte, 0, len(message)),
	}

	c.logger.Info("sending", "session_id", conn.ID, "bytes", len(message))
	if err := conn.Send(message); err != nil {
		closeReason = err.Error()
		return nil, c.ctxErr(ctx, err)
	}
	if err := conn.CloseWrite(); err != nil {
		c.logger.Debug("half_close_failed", "session_id", conn.ID, "error", err.Error())
	}

	for len(res.Received) < len(message) {
		chunk, err := conn.Receive(c.cfg.ChunkSize)
		if err != nil {
			closeReason = err.Error()
			return nil, c.ctxErr(ctx, err)
		}
		if len(chunk) == 0 {
			err := &TransmissionError{Op: "receive", Err: fmt.Errorf("%w: got %d of %d bytes", ErrShortEcho, len(res.Received), len(message))}
			closeReason = err.Error()
			return nil, err
		}
		res.Chunks = append(res.Chunks, chunk)
		res.Received = append(res.Received, chunk...)
	}

	res.Duration = time.Since(start)
	c.logger.Info("echo_complete",
		"session_id", conn.ID,
		"bytes", len(res.Received),
		"chunks", len(res.Chunks),
		"duration", res.Duration.String(),
	)
	return res, nil
}

func (c *EchoClient) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

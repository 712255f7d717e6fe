package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type ServerState int32

const (
	StateIdle ServerState = iota
	StateListening
	StateAccepting
	StateServing
	StateStopped
)

func (s ServerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAccepting:
		return "accepting"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ServerConfig is fixed for the lifetime of a server.
type ServerConfig struct {
	Mode      Mode
	Host      string // explicit mode only
	Port      int
	ChunkSize int
	IOTimeout time.Duration // 0 disables read/write deadlines
}

type ServerOption func(*EchoServer)

func WithDiagnostics(d Diagnostics) ServerOption {
	return func(s *EchoServer) {
		if d != nil {
			s.diag = d
		}
	}
}

func WithSessionRepository(repo SessionRepository) ServerOption {
	return func(s *EchoServer) {
		s.Manager = NewSessionManager(repo)
		s.Manager.logger = s.logger
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *EchoServer) {
		if l != nil {
			s.logger = l
			s.Manager.logger = l
		}
	}
}

// EchoServer accepts one connection at a time and echoes every chunk it
// reads until the peer closes.
type EchoServer struct {
	cfg      ServerConfig
	Manager  *SessionManager
	diag     Diagnostics
	logger   *slog.Logger
	state    atomic.Int32
	mu       sync.Mutex
	listener net.Listener
	quitChan chan struct{}
	stopOnce sync.Once
}

func NewServer(cfg ServerConfig, opts ...ServerOption) *EchoServer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	s := &EchoServer{
		cfg:      cfg,
		Manager:  NewSessionManager(nil),
		diag:     NopDiagnostics{},
		logger:   slog.Default(),
		quitChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EchoServer) State() ServerState { return ServerState(s.state.Load()) }

func (s *EchoServer) setState(st ServerState) { s.state.Store(int32(st)) }

// Addr is the bound address, nil before Listen.
func (s *EchoServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *EchoServer) BoundAddr() string {
	if a := s.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// DroppedEvents reports diagnostics discarded by a lossy sink.
func (s *EchoServer) DroppedEvents() int64 {
	if d, ok := s.diag.(interface{ Dropped() int64 }); ok {
		return d.Dropped()
	}
	return 0
}

// Listen resolves and binds. Errors are *ResolutionError or *BindError.
func (s *EchoServer) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("already listening on %s", s.listener.Addr())
	}
	if s.stopping() {
		return ErrServerStopped
	}

	addr, err := Resolve(ctx, s.cfg.Mode, s.cfg.Host, s.cfg.Port)
	if err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr.BindAddr())
	if err != nil {
		return &BindError{Addr: addr.BindAddr(), Err: err}
	}
	s.listener = ln
	s.setState(StateListening)

	s.logger.Info("tcp_server_listening",
		"addr", ln.Addr().String(),
		"mode", addr.Mode.String(),
		"chunk_size", s.cfg.ChunkSize,
	)
	s.diag.Started(ln.Addr().String())
	return nil
}

// Start binds and then serves until Stop or ctx is done.
func (s *EchoServer) Start(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop on the calling goroutine. Sessions are served
// inline so there is never more than one. Returns nil after Stop.
func (s *EchoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}
	defer s.setState(StateStopped)
	defer s.Stop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.quitChan:
		}
	}()

	for {
		if s.stopping() {
			return nil
		}
		s.setState(StateAccepting)
		s.diag.Waiting()

		conn, err := ln.Accept()
		if err != nil {
			if s.stopping() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed unexpectedly: %w", err)
			}
			s.logger.Warn("failed_to_accept_connection",
				"error", err.Error(),
			)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.setState(StateServing)
		s.serveConn(conn)
	}
}

// serveConn owns raw until it returns; any failure is logged and contained.
func (s *EchoServer) serveConn(raw net.Conn) {
	c := NewConnection(raw, s.diag, s.cfg.IOTimeout)
	info := c.Info()
	rec := s.Manager.Begin(info)
	s.diag.Connected(info)
	s.logger.Info("client_connected",
		"session_id", c.ID,
		"remote_addr", info.Remote,
	)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while serving: %v", r)
		}
		reason := "peer closed"
		if err != nil {
			reason = err.Error()
			s.logger.Warn("session_failed",
				"session_id", c.ID,
				"error", reason,
			)
		}
		s.diag.Closed(c.ID, reason)
		if cerr := c.Close(); cerr != nil {
			s.logger.Debug("close_failed", "session_id", c.ID, "error", cerr.Error())
		}
		s.Manager.Finish(rec, err)
		s.logger.Info("client_disconnected",
			"session_id", c.ID,
			"bytes_echoed", rec.BytesEchoed,
			"chunks", rec.Chunks,
		)
	}()

	err = s.echo(c, rec)
}

func (s *EchoServer) echo(c *Connection, rec *SessionRecord) error {
	for {
		chunk, err := c.Receive(s.cfg.ChunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := c.Send(chunk); err != nil {
			return err
		}
		s.Manager.Echoed(rec, len(chunk))
	}
}

func (s *EchoServer) stopping() bool {
	select {
	case <-s.quitChan:
		return true
	default:
		return false
	}
}

// Stop asks the accept loop to exit. It does not wait and never interrupts
// a session in progress: closing the listener only affects Accept, and the
// loop checks for shutdown before accepting again. Safe to call repeatedly.
func (s *EchoServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.quitChan)
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			ln.Close()
		}
		s.logger.Info("tcp_server_stopping")
	})
}

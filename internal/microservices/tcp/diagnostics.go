package tcp

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// ChunkEvent is one send or receive on a connection. An empty received
// payload is the peer-closed signal.
type ChunkEvent struct {
	SessionID string
	Direction Direction
	Payload   []byte
	At        time.Time
}

// SocketInfo describes an open connection for operators.
type SocketInfo struct {
	SessionID string `json:"session_id"`
	Family    string `json:"family"`
	Type      string `json:"type"`
	Protocol  string `json:"protocol"`
	Local     string `json:"local"`
	Remote    string `json:"remote"`
}

// Diagnostics receives lifecycle and chunk notifications. Implementations
// must not block the caller: they sit beside the data path, not on it.
type Diagnostics interface {
	Started(addr string)
	Waiting()
	Connected(info SocketInfo)
	Chunk(ev ChunkEvent)
	Closed(sessionID, reason string)
}

type NopDiagnostics struct{}

func (NopDiagnostics) Started(string)        {}
func (NopDiagnostics) Waiting()              {}
func (NopDiagnostics) Connected(SocketInfo)  {}
func (NopDiagnostics) Chunk(ChunkEvent)      {}
func (NopDiagnostics) Closed(string, string) {}

const DefaultDiagnosticsQueue = 256

type diagEntry struct {
	level slog.Level
	msg   string
	args  []any
}

// SlogDiagnostics writes events through a slog.Logger from a single
// background goroutine. When the queue is full the event is dropped and
// counted. Chunk events can additionally be capped by a token bucket;
// lifecycle events are never rate limited.
type SlogDiagnostics struct {
	logger  *slog.Logger
	queue   chan diagEntry
	limiter *rate.Limiter
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type DiagnosticsOption func(*SlogDiagnostics)

// WithChunkRate limits chunk events to perSecond (burst = perSecond).
// Zero or negative disables the limit.
func WithChunkRate(perSecond int) DiagnosticsOption {
	return func(d *SlogDiagnostics) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

func WithQueueSize(n int) DiagnosticsOption {
	return func(d *SlogDiagnostics) {
		if n > 0 {
			d.queue = make(chan diagEntry, n)
		}
	}
}

func NewSlogDiagnostics(logger *slog.Logger, opts ...DiagnosticsOption) *SlogDiagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	d := &SlogDiagnostics{
		logger: logger,
		queue:  make(chan diagEntry, DefaultDiagnosticsQueue),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.drain()
	return d
}

func (d *SlogDiagnostics) drain() {
	defer close(d.done)
	ctx := context.Background()
	for e := range d.queue {
		d.logger.Log(ctx, e.level, e.msg, e.args...)
	}
}

func (d *SlogDiagnostics) emit(e diagEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded.
func (d *SlogDiagnostics) Dropped() int64 { return d.dropped.Load() }

// Close flushes queued events and stops the writer goroutine.
func (d *SlogDiagnostics) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *SlogDiagnostics) Started(addr string) {
	d.emit(diagEntry{level: slog.LevelInfo, msg: "starting_up", args: []any{"addr", addr}})
}

func (d *SlogDiagnostics) Waiting() {
	d.emit(diagEntry{level: slog.LevelInfo, msg: "waiting_for_connection"})
}

func (d *SlogDiagnostics) Connected(info SocketInfo) {
	d.emit(diagEntry{level: slog.LevelInfo, msg: "client_connected", args: []any{
		"session_id", info.SessionID,
		"remote_addr", info.Remote,
		"family", info.Family,
		"type", info.Type,
		"protocol", info.Protocol,
	}})
}

func (d *SlogDiagnostics) Chunk(ev ChunkEvent) {
	if len(ev.Payload) > 0 && d.limiter != nil && !d.limiter.Allow() {
		d.dropped.Add(1)
		return
	}

	var e diagEntry
	switch {
	case ev.Direction == DirectionReceived && len(ev.Payload) == 0:
		e = diagEntry{level: slog.LevelInfo, msg: "no_more_data", args: []any{"session_id", ev.SessionID}}
	case ev.Direction == DirectionReceived:
		e = diagEntry{level: slog.LevelInfo, msg: "received", args: []any{
			"session_id", ev.SessionID,
			"data", string(ev.Payload),
			"bytes", len(ev.Payload),
		}}
	default:
		e = diagEntry{level: slog.LevelInfo, msg: "sending", args: []any{
			"session_id", ev.SessionID,
			"bytes", len(ev.Payload),
		}}
	}
	d.emit(e)
}

func (d *SlogDiagnostics) Closed(sessionID, reason string) {
	d.emit(diagEntry{level: slog.LevelInfo, msg: "closing_socket", args: []any{
		"session_id", sessionID,
		"reason", reason,
	}})
}

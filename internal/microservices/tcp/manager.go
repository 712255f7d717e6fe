package tcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type SessionOutcome string

const (
	OutcomePeerClosed SessionOutcome = "peer_closed"
	OutcomeTimeout    SessionOutcome = "timeout"
	OutcomeError      SessionOutcome = "error"
)

// SessionRecord summarises one served connection.
type SessionRecord struct {
	ID          string         `json:"id"`
	Remote      string         `json:"remote"`
	BytesEchoed int64          `json:"bytes_echoed"`
	Chunks      int            `json:"chunks"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Outcome     SessionOutcome `json:"outcome"`
	Error       string         `json:"error,omitempty"`
}

func (r *SessionRecord) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// SessionRepository stores finished sessions (memory, Redis, Postgres or hybrid).
type SessionRepository interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error)
	Close() error
}

// Totals are counters since the server started.
type Totals struct {
	Sessions    int64 `json:"sessions"`
	Failed      int64 `json:"failed"`
	BytesEchoed int64 `json:"bytes_echoed"`
}

// SessionManager tracks the (at most one) active session and persists
// finished ones. Storage failures are logged and swallowed so they never
// reach the accept loop.
type SessionManager struct {
	mu     sync.RWMutex
	active *SessionRecord
	totals Totals
	repo   SessionRepository
	logger *slog.Logger
}

func NewSessionManager(repo SessionRepository) *SessionManager {
	if repo == nil {
		repo = NewMemorySessionRepo(DefaultMemorySessions)
	}
	return &SessionManager{
		repo:   repo,
		logger: slog.Default(),
	}
}

// Begin registers info as the active session.
func (m *SessionManager) Begin(info SocketInfo) *SessionRecord {
	rec := &SessionRecord{
		ID:        info.SessionID,
		Remote:    info.Remote,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	m.active = rec
	m.mu.Unlock()
	return rec
}

// Echoed counts one echoed chunk of n bytes against rec.
func (m *SessionManager) Echoed(rec *SessionRecord, n int) {
	m.mu.Lock()
	rec.BytesEchoed += int64(n)
	rec.Chunks++
	m.mu.Unlock()
}

// Finish clears the active session, updates totals and saves rec.
func (m *SessionManager) Finish(rec *SessionRecord, err error) {
	outcome, msg := OutcomePeerClosed, ""
	switch {
	case err == nil:
	case isTimeout(err):
		outcome, msg = OutcomeTimeout, err.Error()
	default:
		outcome, msg = OutcomeError, err.Error()
	}

	// rec is still visible through Active until it is cleared below
	m.mu.Lock()
	rec.EndedAt = time.Now()
	rec.Outcome = outcome
	rec.Error = msg
	if m.active == rec {
		m.active = nil
	}
	m.totals.Sessions++
	m.totals.BytesEchoed += rec.BytesEchoed
	if rec.Outcome != OutcomePeerClosed {
		m.totals.Failed++
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.repo.SaveSession(ctx, rec); err != nil {
		m.logger.Warn("session_save_failed",
			"session_id", rec.ID,
			"error", err.Error(),
		)
	}
}

// Active returns a copy of the in-flight session, if any.
func (m *SessionManager) Active() (SessionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return SessionRecord{}, false
	}
	return *m.active, true
}

func (m *SessionManager) Totals() Totals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals
}

func (m *SessionManager) Recent(ctx context.Context, limit int) ([]*SessionRecord, error) {
	return m.repo.RecentSessions(ctx, limit)
}

func (m *SessionManager) Close() error { return m.repo.Close() }

const DefaultMemorySessions = 100

// MemorySessionRepo keeps the last N sessions in a ring.
type MemorySessionRepo struct {
	mu    sync.Mutex
	items []*SessionRecord
	next  int
	full  bool
}

func NewMemorySessionRepo(capacity int) *MemorySessionRepo {
	if capacity <= 0 {
		capacity = DefaultMemorySessions
	}
	return &MemorySessionRepo{items: make([]*SessionRecord, capacity)}
}

func (r *MemorySessionRepo) SaveSession(_ context.Context, rec *SessionRecord) error {
	cp := *rec
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = &cp
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// RecentSessions returns newest first.
func (r *MemorySessionRepo) RecentSessions(_ context.Context, limit int) ([]*SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.items)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]*SessionRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.items)) % len(r.items)
		cp := *r.items[idx]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemorySessionRepo) Close() error { return nil }

package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BatchSessionStore is durable storage that can take sessions in bulk.
type BatchSessionStore interface {
	SessionRepository
	BatchInsert(ctx context.Context, recs []*SessionRecord) error
}

const (
	defaultHybridQueue     = 1024
	defaultHybridBatchSize = 100
	defaultFlushInterval   = 30 * time.Second
)

// HybridSessionRepository writes to the cache (Redis) synchronously and
// queues the same record for a batched write to the store (Postgres).
// When the queue is full the record goes straight to the store.
type HybridSessionRepository struct {
	cache     SessionRepository
	store     BatchSessionStore
	writeChan chan *SessionRecord
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type HybridOption func(*HybridSessionRepository)

func WithHybridLogger(l *slog.Logger) HybridOption {
	return func(r *HybridSessionRepository) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewHybridSessionRepository(cache SessionRepository, store BatchSessionStore, flushInterval time.Duration, opts ...HybridOption) *HybridSessionRepository {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	r := &HybridSessionRepository{
		cache:     cache,
		store:     store,
		writeChan: make(chan *SessionRecord, defaultHybridQueue),
		interval:  flushInterval,
		batchSize: defaultHybridBatchSize,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.batchWriter()
	return r
}

func (r *HybridSessionRepository) SaveSession(ctx context.Context, rec *SessionRecord) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("repository is closed")
	}

	if err := r.cache.SaveSession(ctx, rec); err != nil {
		r.logger.Error("redis_save_failed",
			"session_id", rec.ID,
			"error", err.Error(),
		)
		return fmt.Errorf("redis write failed: %w", err)
	}

	cp := *rec
	select {
	case r.writeChan <- &cp:
		return nil
	default:
	}

	r.logger.Warn("write_queue_full_direct_postgres_write", "session_id", rec.ID)
	wctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := r.store.SaveSession(wctx, &cp); err != nil {
		return fmt.Errorf("postgres direct write failed: %w", err)
	}
	return nil
}

// RecentSessions reads the cache and falls back to the store when the
// cache fails or has nothing.
func (r *HybridSessionRepository) RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	recs, err := r.cache.RecentSessions(ctx, limit)
	if err == nil && len(recs) > 0 {
		return recs, nil
	}
	if err != nil {
		r.logger.Debug("redis_read_failed_fallback_to_postgres", "error", err.Error())
	}
	return r.store.RecentSessions(ctx, limit)
}

func (r *HybridSessionRepository) batchWriter() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]*SessionRecord, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-r.writeChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (r *HybridSessionRepository) flushBatch(batch []*SessionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.store.BatchInsert(ctx, batch); err != nil {
		r.logger.Error("batch_insert_failed",
			"count", len(batch),
			"error", err.Error(),
		)
		return
	}
	r.logger.Info("batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Close flushes queued records, then closes both backends.
func (r *HybridSessionRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.writeChan)
	r.mu.Unlock()
	<-r.done

	return errors.Join(r.cache.Close(), r.store.Close())
}

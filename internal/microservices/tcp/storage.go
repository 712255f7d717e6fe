package tcp

import (
	"log/slog"
	"time"
)

type StorageConfig struct {
	RedisURL      string
	RedisPassword string
	DatabaseURL   string
	SessionTTL    time.Duration
	FlushInterval time.Duration
	Logger        *slog.Logger // nil means slog.Default()
}

// OpenSessionRepository picks a backend from what is configured:
// Redis + Postgres → hybrid, either alone → that one, neither → memory.
func OpenSessionRepository(cfg StorageConfig) (SessionRepository, string, error) {
	var (
		cache *SessionRedisRepo
		store *SessionPostgresRepo
		err   error
	)
	if cfg.RedisURL != "" {
		cache, err = NewSessionRedisRepo(cfg.RedisURL, cfg.RedisPassword, cfg.SessionTTL)
		if err != nil {
			return nil, "", err
		}
	}
	if cfg.DatabaseURL != "" {
		store, err = NewSessionPostgresRepo(cfg.DatabaseURL)
		if err != nil {
			if cache != nil {
				cache.Close()
			}
			return nil, "", err
		}
	}

	switch {
	case cache != nil && store != nil:
		return NewHybridSessionRepository(cache, store, cfg.FlushInterval, WithHybridLogger(cfg.Logger)), "hybrid", nil
	case cache != nil:
		return cache, "redis", nil
	case store != nil:
		return store, "postgres", nil
	default:
		return NewMemorySessionRepo(DefaultMemorySessions), "memory", nil
	}
}

var (
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ SessionRepository = (*SessionRedisRepo)(nil)
	_ BatchSessionStore = (*SessionPostgresRepo)(nil)
	_ SessionRepository = (*HybridSessionRepository)(nil)
	_ Diagnostics       = (*SlogDiagnostics)(nil)
	_ Diagnostics       = NopDiagnostics{}
)

package tcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "echo:session:"
	sessionIndexKey  = "echo:sessions"
	maxSessionIndex  = 1000
)

// SessionRedisRepo keeps each session in a hash with a TTL plus a capped
// list of IDs, newest first.
type SessionRedisRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionRedisRepo accepts "host:port" or a redis:// / rediss:// URL.
func NewSessionRedisRepo(redisURL, password string, ttl time.Duration) (*SessionRedisRepo, error) {
	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewSessionRedisRepoFromClient(rdb, ttl), nil
}

func NewSessionRedisRepoFromClient(rdb *redis.Client, ttl time.Duration) *SessionRedisRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionRedisRepo{client: rdb, ttl: ttl}
}

func (r *SessionRedisRepo) SaveSession(ctx context.Context, rec *SessionRecord) error {
	key := sessionKeyPrefix + rec.ID
	fields := map[string]any{
		"id":           rec.ID,
		"remote":       rec.Remote,
		"bytes_echoed": rec.BytesEchoed,
		"chunks":       rec.Chunks,
		"started_at":   rec.StartedAt.Format(time.RFC3339Nano),
		"ended_at":     rec.EndedAt.Format(time.RFC3339Nano),
		"outcome":      string(rec.Outcome),
		"error":        rec.Error,
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.ttl)
		pipe.LPush(ctx, sessionIndexKey, rec.ID)
		pipe.LTrim(ctx, sessionIndexKey, 0, maxSessionIndex-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session %s: %w", rec.ID, err)
	}
	return nil
}

func (r *SessionRedisRepo) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	fields, err := r.client.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil // expired or never saved
	}
	return parseSessionHash(fields), nil
}

// RecentSessions skips IDs whose hash has already expired.
func (r *SessionRedisRepo) RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := r.client.LRange(ctx, sessionIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, sessionKeyPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*SessionRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, parseSessionHash(fields))
	}
	return out, nil
}

func (r *SessionRedisRepo) Close() error { return r.client.Close() }

func parseSessionHash(fields map[string]string) *SessionRecord {
	rec := &SessionRecord{
		ID:      fields["id"],
		Remote:  fields["remote"],
		Outcome: SessionOutcome(fields["outcome"]),
		Error:   fields["error"],
	}
	rec.BytesEchoed, _ = strconv.ParseInt(fields["bytes_echoed"], 10, 64)
	rec.Chunks, _ = strconv.Atoi(fields["chunks"])
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, fields["started_at"])
	rec.EndedAt, _ = time.Parse(time.RFC3339Nano, fields["ended_at"])
	return rec
}

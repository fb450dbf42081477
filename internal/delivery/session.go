package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/merch-api/internal/labels"
)

// CachePayload is the persisted form of the handle cache. SavedAt lets the
// engine discard stale snapshots on hydration.
type CachePayload struct {
	SavedAt  time.Time                     `json:"savedAt"`
	Products map[string][]labels.ViewModel `json:"products"`
}

// SessionStore persists the handle cache across page views of one session.
type SessionStore interface {
	Load(ctx context.Context) (CachePayload, bool, error)
	Save(ctx context.Context, payload CachePayload) error
}

// RedisSessionStore keeps the payload under a per-session key. The key TTL
// doubles the engine-side SavedAt check so abandoned sessions expire on
// their own.
type RedisSessionStore struct {
	Client    *redis.Client
	SessionID string
	TTL       time.Duration
}

func (s *RedisSessionStore) key() string {
	return "merch:session:" + s.SessionID
}

// Load returns the stored payload. A missing key or corrupt payload reports
// not-found rather than an error.
func (s *RedisSessionStore) Load(ctx context.Context) (CachePayload, bool, error) {
	data, err := s.Client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return CachePayload{}, false, nil
		}
		return CachePayload{}, false, fmt.Errorf("load session cache: %w", err)
	}
	var payload CachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return CachePayload{}, false, nil
	}
	return payload, true, nil
}

// Save stores the payload with the configured TTL.
func (s *RedisSessionStore) Save(ctx context.Context, payload CachePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := s.Client.Set(ctx, s.key(), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session cache: %w", err)
	}
	return nil
}

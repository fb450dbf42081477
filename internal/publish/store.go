package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store reads and writes the per-product metadata arrays that consumers
// (storefront script, cart function) parse.
type Store interface {
	Read(ctx context.Context, shop, productID string) ([]Snapshot, error)
	Write(ctx context.Context, shop, productID string, entries []Snapshot) error
}

// RedisStore keeps published metadata in Redis, one JSON array per product.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore constructs a RedisStore with the default key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, Prefix: "merch:meta"}
}

func (s *RedisStore) key(shop, productID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "merch:meta"
	}
	return fmt.Sprintf("%s:%s:%s", prefix, shop, productID)
}

// Read returns the published entries for a product. A missing key yields an
// empty slice; a corrupted payload is treated the same so a bad write never
// wedges the product.
func (s *RedisStore) Read(ctx context.Context, shop, productID string) ([]Snapshot, error) {
	data, err := s.Client.Get(ctx, s.key(shop, productID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata %s/%s: %w", shop, productID, err)
	}
	var entries []Snapshot
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil
	}
	return entries, nil
}

// Write replaces the published entries for a product. An empty slice deletes
// the key instead of storing an empty array.
func (s *RedisStore) Write(ctx context.Context, shop, productID string, entries []Snapshot) error {
	key := s.key(shop, productID)
	if len(entries) == 0 {
		if err := s.Client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete metadata %s/%s: %w", shop, productID, err)
		}
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode metadata %s/%s: %w", shop, productID, err)
	}
	if err := s.Client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("write metadata %s/%s: %w", shop, productID, err)
	}
	return nil
}

package access

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskbench/api/internal/principal"
)

// ScopeCache holds resolved workbasket scope sets in Redis for a short
// TTL. Access items change rarely relative to how often queries resolve
// them, and a stale entry only lingers until the TTL runs out.
type ScopeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewScopeCache(redisURL string, ttl time.Duration) (*ScopeCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &ScopeCache{client: client, prefix: "scope:", ttl: ttl}, nil
}

// NewScopeCacheWithClient creates a cache from an existing Redis client.
func NewScopeCacheWithClient(client *redis.Client, ttl time.Duration) *ScopeCache {
	return &ScopeCache{client: client, prefix: "scope:", ttl: ttl}
}

func (c *ScopeCache) key(scopeKey string) string {
	return c.prefix + scopeKey
}

// Get returns the cached scope set and whether it was present.
func (c *ScopeCache) Get(ctx context.Context, scopeKey string) ([]string, bool, error) {
	payload, err := c.client.Get(ctx, c.key(scopeKey)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read scope cache: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil, false, fmt.Errorf("unmarshal scope cache: %w", err)
	}
	return ids, true, nil
}

func (c *ScopeCache) Set(ctx context.Context, scopeKey string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal scope cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key(scopeKey), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("write scope cache: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *ScopeCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *ScopeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// scopeKey hashes the principal's access ids plus the permission into a
// stable cache key.
func scopeKey(p principal.Principal, perm Permission) string {
	sum := sha256.Sum256([]byte(strings.Join(p.AccessIDs(), ",") + "|" + string(perm)))
	return fmt.Sprintf("%x", sum)
}

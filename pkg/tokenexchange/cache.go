package tokenexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"
)

// TokenCache stores service tokens between requests. Implementations must
// be safe for concurrent use.
type TokenCache interface {
	Get(ctx context.Context, key string) (*oauth2.Token, bool)
	Set(ctx context.Context, key string, token *oauth2.Token, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	token     *oauth2.Token
	expiresAt time.Time
}

// MemoryCache is a process-local TokenCache with a per-entry TTL
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process token cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the token stored under key if its TTL has not elapsed
func (c *MemoryCache) Get(ctx context.Context, key string) (*oauth2.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.token, true
}

// Set stores token under key for ttl
func (c *MemoryCache) Set(ctx context.Context, key string, token *oauth2.Token, ttl time.Duration) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{token: token, expiresAt: c.now().Add(ttl)}
	return nil
}

// Delete removes key from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// RedisCache shares service tokens between service instances
type RedisCache struct {
	redis  *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed token cache. Keys are stored as
// "<prefix>:<key>".
func NewRedisCache(redisClient *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "leadflow:token"
	}
	return &RedisCache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Get returns the cached token. Redis errors are reported as a miss so the
// caller falls back to fetching a fresh token.
func (c *RedisCache) Get(ctx context.Context, key string) (*oauth2.Token, bool) {
	data, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, false
	}
	return &token, true
}

// Set stores token under key with the given TTL
func (c *RedisCache) Set(ctx context.Context, key string, token *oauth2.Token, ttl time.Duration) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Delete removes key from Redis
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.redis.Del(ctx, c.key(key)).Err()
}

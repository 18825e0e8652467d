package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheName = "generation"

// CacheMetrics receives cache hit/miss counts.
type CacheMetrics interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// cacheClient is the slice of the redis client surface the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache memoizes generation results to avoid paying for duplicate
// generations. Entries expire by TTL only; cardinality and volume are
// low enough that no eviction policy is needed. Concurrent identical
// requests are not coalesced: two in-flight duplicates may both reach
// the provider.
type Cache struct {
	client  cacheClient
	prefix  string
	ttl     time.Duration
	metrics CacheMetrics
}

// CacheConfig contains cache configuration.
type CacheConfig struct {
	Prefix string
	TTL    time.Duration
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Prefix: "gen:",
		TTL:    time.Hour,
	}
}

// NewCache creates a new generation cache.
func NewCache(client cacheClient, cfg *CacheConfig, metrics CacheMetrics) *Cache {
	if cfg == nil {
		cfg = DefaultCacheConfig()
	}
	return &Cache{
		client:  client,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		metrics: metrics,
	}
}

// Fingerprint derives the deterministic cache key from every input that
// affects a generation's output, including the requesting user.
func Fingerprint(userID string, req *Request) string {
	payload := struct {
		Prompt  string       `json:"prompt"`
		Model   string       `json:"model"`
		Options ImageOptions `json:"options"`
		UserID  string       `json:"user_id"`
	}{
		Prompt:  req.Prompt,
		Model:   req.Options.Model,
		Options: req.Options,
		UserID:  userID,
	}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns a previously stored result, marked FromCache, or nil on
// miss.
func (c *Cache) Get(ctx context.Context, key string) (*Result, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(cacheName)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("get from cache: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal cached result: %w", err)
	}

	result.Metadata.FromCache = true
	if c.metrics != nil {
		c.metrics.RecordCacheHit(cacheName)
	}
	return &result, nil
}

// Put stores a result with the configured TTL.
func (c *Cache) Put(ctx context.Context, key string, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set in cache: %w", err)
	}
	return nil
}

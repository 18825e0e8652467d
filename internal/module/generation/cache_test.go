package generation

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// fakeCacheClient implements cacheClient over a map with TTL honored
// against an injectable clock.
type fakeCacheClient struct {
	entries map[string]fakeCacheEntry
	now     time.Time
}

func newFakeCacheClient() *fakeCacheClient {
	return &fakeCacheClient{
		entries: map[string]fakeCacheEntry{},
		now:     time.Now(),
	}
}

func (c *fakeCacheClient) Get(ctx context.Context, key string) *redis.StringCmd {
	entry, ok := c.entries[key]
	if !ok || c.now.After(entry.expiresAt) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(entry.data), nil)
}

func (c *fakeCacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.entries[key] = fakeCacheEntry{
		data:      value.([]byte),
		expiresAt: c.now.Add(expiration),
	}
	return redis.NewStatusResult("OK", nil)
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()

	result := func() *Result {
		return &Result{
			Images: []Image{{URL: "https://images.example/1.png"}},
			Metadata: Metadata{
				Provider:      "fal",
				Model:         "fal-ai/flux/dev",
				EstimatedCost: 0.01,
			},
		}
	}

	t.Run("Put then Get returns the result marked FromCache", func(t *testing.T) {
		client := newFakeCacheClient()
		cache := NewCache(client, &CacheConfig{Prefix: "gen:", TTL: time.Hour}, nil)

		key := Fingerprint("user-1", &Request{Prompt: "studio headshot"})
		require.NoError(t, cache.Put(ctx, key, result()))

		got, err := cache.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Metadata.FromCache)
		assert.Equal(t, result().Images, got.Images)
		assert.Equal(t, "fal", got.Metadata.Provider)
		assert.Equal(t, 0.01, got.Metadata.EstimatedCost)
	})

	t.Run("Unknown key is a miss, not an error", func(t *testing.T) {
		cache := NewCache(newFakeCacheClient(), DefaultCacheConfig(), nil)

		got, err := cache.Get(ctx, "never-stored")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Entry expires after the TTL", func(t *testing.T) {
		client := newFakeCacheClient()
		cache := NewCache(client, &CacheConfig{Prefix: "gen:", TTL: time.Hour}, nil)

		require.NoError(t, cache.Put(ctx, "k", result()))
		client.now = client.now.Add(2 * time.Hour)

		got, err := cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Keys are prefix-namespaced", func(t *testing.T) {
		client := newFakeCacheClient()
		cache := NewCache(client, &CacheConfig{Prefix: "gen:", TTL: time.Hour}, nil)

		require.NoError(t, cache.Put(ctx, "k", result()))
		assert.Contains(t, client.entries, "gen:k")
	})
}

func TestFingerprint(t *testing.T) {
	base := func() *Request {
		return &Request{
			Prompt: "professional headshot, studio lighting",
			Options: ImageOptions{
				Count: 4,
				Size:  "1024x1024",
				Model: "fal-ai/flux/dev",
			},
		}
	}

	t.Run("Deterministic", func(t *testing.T) {
		a := Fingerprint("user-1", base())
		b := Fingerprint("user-1", base())
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("Varies by user", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("user-1", base()), Fingerprint("user-2", base()))
	})

	t.Run("Varies by prompt", func(t *testing.T) {
		other := base()
		other.Prompt = "professional headshot, outdoor"
		assert.NotEqual(t, Fingerprint("user-1", base()), Fingerprint("user-1", other))
	})

	t.Run("Varies by options", func(t *testing.T) {
		other := base()
		other.Options.Seed = 42
		assert.NotEqual(t, Fingerprint("user-1", base()), Fingerprint("user-1", other))
	})

	t.Run("Ignores routing hints", func(t *testing.T) {
		other := base()
		other.Provider = "leonardo"
		other.Requirements = &Requirements{Speed: SpeedFast}
		other.UseCache = true
		assert.Equal(t, Fingerprint("user-1", base()), Fingerprint("user-1", other))
	})
}

package intents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mediator:embedding:"

// EmbeddingCache maps intent hashes to vectors. The in-memory tier is
// authoritative for one process; an optional Redis tier lets co-located
// mediators share embeddings across restarts. Embeddings are never persisted
// authoritatively; a miss is always recoverable by re-embedding.
type EmbeddingCache struct {
	mu     sync.RWMutex
	local  map[string][]float32
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewEmbeddingCache creates the cache. redisURL may be empty to run purely
// in-memory.
func NewEmbeddingCache(redisURL string, logger *slog.Logger) (*EmbeddingCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &EmbeddingCache{
		local:  make(map[string][]float32),
		ttl:    24 * time.Hour,
		logger: logger,
	}
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		c.rdb = redis.NewClient(opts)
	}
	return c, nil
}

// Get returns the cached vector for a hash, consulting the Redis tier on a
// local miss. Redis failures degrade to a miss.
func (c *EmbeddingCache) Get(ctx context.Context, hash string) ([]float32, bool) {
	c.mu.RLock()
	vec, ok := c.local[hash]
	c.mu.RUnlock()
	if ok {
		return vec, true
	}
	if c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, redisKeyPrefix+hash).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("embedding cache redis get failed", "hash", hash, "error", err)
		}
		return nil, false
	}
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	c.mu.Lock()
	c.local[hash] = vec
	c.mu.Unlock()
	return vec, true
}

// Put stores a vector in both tiers. Redis failures are logged and ignored.
func (c *EmbeddingCache) Put(ctx context.Context, hash string, vec []float32) {
	c.mu.Lock()
	c.local[hash] = vec
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+hash, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache redis set failed", "hash", hash, "error", err)
	}
}

// Prune drops local entries whose hash is not in keep. The cleanup step of
// each alignment cycle calls this with the current intent pool.
func (c *EmbeddingCache) Prune(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for h := range c.local {
		if _, ok := keep[h]; !ok {
			delete(c.local, h)
			removed++
		}
	}
	return removed
}

// Len returns the local tier size.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.local)
}

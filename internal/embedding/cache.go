package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"taskforge/internal/logging"
)

// =============================================================================
// VECTOR CACHES
// =============================================================================

// VectorCache stores embeddings keyed by an opaque string.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// LRUCache is an in-process bounded cache.
type LRUCache struct {
	cache *lru.Cache[string, []float32]
}

// NewLRUCache creates an LRU cache holding up to size vectors.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding LRU: %w", err)
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	v, ok := c.cache.Get(key)
	return v, ok, nil
}

func (c *LRUCache) Set(_ context.Context, key string, vec []float32) error {
	c.cache.Add(key, vec)
	return nil
}

// Len returns the number of cached vectors.
func (c *LRUCache) Len() int { return c.cache.Len() }

// RedisCache shares embeddings between processes.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Embedding("Connected to Redis embedding cache at %s", opts.Addr)
	return NewRedisCacheFromClient(client, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "taskforge:embedding:", ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("corrupt cached embedding: %w", err)
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// =============================================================================
// CACHED ENGINE
// =============================================================================

// CachedEngine consults caches in order before calling the wrapped engine.
// Cache errors are logged and treated as misses.
type CachedEngine struct {
	inner  EmbeddingEngine
	caches []VectorCache
}

// NewCachedEngine wraps inner with caches, fastest first.
func NewCachedEngine(inner EmbeddingEngine, caches ...VectorCache) *CachedEngine {
	return &CachedEngine{inner: inner, caches: caches}
}

func (e *CachedEngine) Name() string { return e.inner.Name() }

func (e *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := e.key(text)
		if vec, tier := e.lookup(ctx, key); vec != nil {
			out[i] = vec
			e.backfill(ctx, key, vec, tier)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		logging.EmbeddingDebug("embedding cache hit for %d text(s)", len(texts))
		return out, nil
	}

	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", e.inner.Name(), len(vecs), len(missTexts))
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.backfill(ctx, e.key(missTexts[j]), vec, len(e.caches))
	}
	return out, nil
}

func (e *CachedEngine) lookup(ctx context.Context, key string) ([]float32, int) {
	for tier, c := range e.caches {
		vec, ok, err := c.Get(ctx, key)
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embedding cache read failed: %v", err)
			continue
		}
		if ok {
			return vec, tier
		}
	}
	return nil, len(e.caches)
}

// backfill writes vec into every cache faster than the tier it came from.
func (e *CachedEngine) backfill(ctx context.Context, key string, vec []float32, tier int) {
	for i := 0; i < tier && i < len(e.caches); i++ {
		if err := e.caches[i].Set(ctx, key, vec); err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embedding cache write failed: %v", err)
		}
	}
}

func (e *CachedEngine) key(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Name() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

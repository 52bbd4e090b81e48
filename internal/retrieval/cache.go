package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/kalambet/gamerec/internal/storage"
)

// ErrCacheMiss is returned by EmbeddingCache.Get for unknown keys.
var ErrCacheMiss = errors.New("cache miss")

// EmbeddingCache stores query embeddings keyed by model and text digest.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// MemoryCache keeps embeddings in process memory with expiry.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return v.([]float32), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	m.c.SetDefault(key, vec)
	return nil
}

// RedisCache shares embeddings between processes through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds the connection settings for RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisCache connects and pings the server so a bad address fails at
// startup rather than on the first query.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "gamerec:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	vec, err := storage.DecodeVector(b)
	if err != nil {
		return nil, fmt.Errorf("decoding cached embedding: %w", err)
	}
	return vec, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	if err := r.client.Set(ctx, r.prefix+key, storage.EncodeVector(vec), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

package promptcache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"foodlog/internal/metrics"
)

// RedisCache stores completions in Redis with SET ... EX
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisClient connects to Redis using a redis:// URL
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")
	return client, nil
}

// NewRedisCache creates a prompt cache on an existing Redis client
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, ttl: TTL}
}

// Get returns the cached completion. Redis errors are logged and reported as
// a miss together with the error so callers can still go to the model.
func (c *RedisCache) Get(ctx context.Context, key Key) (string, bool, error) {
	value, err := c.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		metrics.RecordPromptCache("miss")
		return "", false, nil
	}
	if err != nil {
		metrics.RecordPromptCache("error")
		log.Printf("⚠️ [PROMPT-CACHE] Redis get failed: %v", err)
		return "", false, err
	}

	metrics.RecordPromptCache("hit")
	return value, true, nil
}

// Put stores a completion with the fixed TTL
func (c *RedisCache) Put(ctx context.Context, key Key, value string) error {
	if err := c.client.Set(ctx, key.String(), value, c.ttl).Err(); err != nil {
		log.Printf("⚠️ [PROMPT-CACHE] Redis set failed: %v", err)
		return err
	}
	return nil
}

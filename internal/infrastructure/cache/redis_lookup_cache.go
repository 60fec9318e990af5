package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix prefixes every redis key of the lookup cache
const DefaultKeyPrefix = "provisioner:lookup:"

// RedisLookupCache implements LookupCache using Redis, so that repeated runs
// and parallel operators share resolved ids
type RedisLookupCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisLookupCache connects to Redis and verifies the connection
func NewRedisLookupCache(ctx context.Context, cfg RedisConfig) (*RedisLookupCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisLookupCacheWithClient(client, DefaultKeyPrefix, cfg.TTL), nil
}

// NewRedisLookupCacheWithClient creates a cache with an existing Redis client
func NewRedisLookupCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisLookupCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLookupCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (c *RedisLookupCache) key(namespace, key string) string {
	return c.keyPrefix + namespace + ":" + key
}

// Get returns the cached id
func (c *RedisLookupCache) Get(ctx context.Context, namespace, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, c.key(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read lookup %s/%s: %w", namespace, key, err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt lookup %s/%s: %w", namespace, key, err)
	}
	return id, true, nil
}

// Set stores an id with the cache TTL
func (c *RedisLookupCache) Set(ctx context.Context, namespace, key string, id int64) error {
	if err := c.client.Set(ctx, c.key(namespace, key), strconv.FormatInt(id, 10), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store lookup %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete forgets a key
func (c *RedisLookupCache) Delete(ctx context.Context, namespace, key string) error {
	if err := c.client.Del(ctx, c.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete lookup %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Close closes the Redis client
func (c *RedisLookupCache) Close() error {
	return c.client.Close()
}

var _ LookupCache = (*RedisLookupCache)(nil)

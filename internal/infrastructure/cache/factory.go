package cache

import (
	"context"
	"fmt"

	"github.com/erp/provisioner/internal/infrastructure/config"
	"go.uber.org/zap"
)

// New creates the lookup cache named by cfg.Driver. When Redis is
// unreachable and fallback is allowed, it returns an in-memory cache.
func New(ctx context.Context, cfg config.CacheConfig, allowFallback bool, logger *zap.Logger) (LookupCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Driver != "redis" {
		return NewInMemoryLookupCache(cfg.TTL), nil
	}

	store, err := NewRedisLookupCache(ctx, RedisConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
		TTL:      cfg.TTL,
	})
	if err == nil {
		logger.Info("using Redis lookup cache", zap.String("addr", cfg.Addr()))
		return store, nil
	}
	if !allowFallback {
		return nil, fmt.Errorf("redis lookup cache unavailable: %w", err)
	}
	logger.Warn("Redis unavailable, falling back to in-memory lookup cache", zap.Error(err))
	return NewInMemoryLookupCache(cfg.TTL), nil
}

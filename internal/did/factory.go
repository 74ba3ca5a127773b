package did

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

// NewResolver builds the configured resolver chain. The returned close
// function releases the cache connection, if any.
func NewResolver(ctx context.Context, cfg config.DIDConfig, logger *zap.Logger) (Resolver, func() error, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var base Resolver
	switch cfg.Resolver {
	case "authzen":
		base = NewAuthZENResolver(cfg.URL, timeout)
	case "http", "":
		base = NewHTTPResolver(cfg.URL, timeout)
	default:
		return nil, nil, fmt.Errorf("unsupported DID resolver: %s", cfg.Resolver)
	}

	noop := func() error { return nil }
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second

	switch cfg.Cache.Type {
	case "", "none":
		return base, noop, nil
	case "memory":
		return NewCachingResolver(base, NewMemoryCache(clockwork.NewRealClock()), ttl, logger), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		cache := NewRedisCache(client, cfg.Cache.Redis.KeyPrefix)
		return NewCachingResolver(base, cache, ttl, logger), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported DID cache type: %s", cfg.Cache.Type)
	}
}

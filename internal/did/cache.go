package did

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores resolved documents for a limited time
type Cache interface {
	// Get returns the cached document or nil when absent or expired
	Get(ctx context.Context, did string) (*Document, error)
	Set(ctx context.Context, did string, doc *Document, ttl time.Duration) error
}

type memoryEntry struct {
	doc     *Document
	expires time.Time
}

// MemoryCache is an in-process Cache
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   clockwork.Clock
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache(clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), clock: clock}
}

func (c *MemoryCache) Get(ctx context.Context, did string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[did]
	if !ok || !c.clock.Now().Before(e.expires) {
		return nil, nil
	}
	return e.doc, nil
}

func (c *MemoryCache) Set(ctx context.Context, did string, doc *Document, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[did] = memoryEntry{doc: doc, expires: c.clock.Now().Add(ttl)}
	return nil
}

// RedisCache shares resolved documents between holder instances
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a Redis backed cache
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) key(did string) string {
	return c.keyPrefix + did
}

func (c *RedisCache) Get(ctx context.Context, did string) (*Document, error) {
	data, err := c.client.Get(ctx, c.key(did)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached DID document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cached DID document: %w", err)
	}
	return &doc, nil
}

func (c *RedisCache) Set(ctx context.Context, did string, doc *Document, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode DID document: %w", err)
	}
	if err := c.client.Set(ctx, c.key(did), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache DID document: %w", err)
	}
	return nil
}

// CachingResolver wraps a Resolver with a Cache. Cache failures are logged
// and fall through to the wrapped resolver.
type CachingResolver struct {
	next   Resolver
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingResolver creates a caching resolver
func NewCachingResolver(next Resolver, cache Cache, ttl time.Duration, logger *zap.Logger) *CachingResolver {
	return &CachingResolver{next: next, cache: cache, ttl: ttl, logger: logger.Named("did-cache")}
}

func (r *CachingResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	doc, err := r.cache.Get(ctx, did)
	if err != nil {
		r.logger.Warn("DID cache read failed", zap.String("did", did), zap.Error(err))
	} else if doc != nil {
		return doc, nil
	}

	doc, err = r.next.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, did, doc, r.ttl); err != nil {
		r.logger.Warn("DID cache write failed", zap.String("did", did), zap.Error(err))
	}
	return doc, nil
}

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

const cacheKey = "settings:booking"

var errCacheMiss = errors.New("cache miss")

// Store is the durable side of the cache.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings, updatedBy uuid.UUID) (Settings, error)
}

type cache interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
}

type redisCache struct {
	rdb *redis.Client
}

func (c redisCache) get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	return b, err
}

func (c redisCache) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c redisCache) del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Cached serves settings from Redis and falls through to the Store on a miss
// or a Redis failure. Update writes the Store and drops the cached copy.
type Cached struct {
	store Store
	cache cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(store Store, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{store: store, cache: redisCache{rdb: rdb}, ttl: ttl, log: log}
}

func (c *Cached) Current(ctx context.Context) (Settings, error) {
	raw, err := c.cache.get(ctx, cacheKey)
	if err == nil {
		var s Settings
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
		c.log.Warn("discarding undecodable cached settings")
	} else if !errors.Is(err, errCacheMiss) {
		c.log.Warn("settings cache read failed", zap.Error(err))
	}

	s, err := c.store.Load(ctx)
	if err != nil {
		return Settings{}, err
	}

	if raw, err := json.Marshal(s); err == nil {
		if err := c.cache.set(ctx, cacheKey, raw, c.ttl); err != nil {
			c.log.Warn("settings cache write failed", zap.Error(err))
		}
	}
	return s, nil
}

func (c *Cached) Update(ctx context.Context, actor auth.Actor, s Settings) (Settings, error) {
	if !actor.IsAdmin() {
		return Settings{}, ErrForbidden
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	saved, err := c.store.Save(ctx, s, actor.ID)
	if err != nil {
		return Settings{}, err
	}
	if err := c.Invalidate(ctx); err != nil {
		// stale reads last at most one TTL
		c.log.Error("settings cache invalidation failed", zap.Error(err))
	}
	return saved, nil
}

func (c *Cached) Invalidate(ctx context.Context) error {
	if err := c.cache.del(ctx, cacheKey); err != nil {
		return fmt.Errorf("invalidate settings cache: %w", err)
	}
	return nil
}

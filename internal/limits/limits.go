package limits

import (
	"context"
	"sync"
	"time"

	"ev-telemetry/processing/internal/config"
	"ev-telemetry/processing/internal/store"
)

type cacheEntry struct {
	limit     int
	expiresAt time.Time
}

// Resolver looks up the maximum historical record count an API key is
// allowed to load. The limit itself is decided by the authorization
// service; we only resolve and cache it.
type Resolver struct {
	localCache   sync.Map
	redis        *store.RedisStore
	ttl          time.Duration
	defaultLimit int
}

func NewResolver(cfg *config.Config, redis *store.RedisStore) *Resolver {
	return &Resolver{
		redis:        redis,
		ttl:          time.Duration(cfg.LimitCacheTTLSeconds) * time.Second,
		defaultLimit: cfg.DefaultHistoryLimit,
	}
}

// Resolve returns the record limit for apiKey, falling back to the
// configured default when the key has no entry or the lookup fails.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) int {
	if apiKey == "" {
		return r.defaultLimit
	}

	if raw, ok := r.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.limit
		}
		r.localCache.Delete(apiKey)
	}

	if r.redis != nil {
		limit, err := r.redis.GetAccessLimit(ctx, apiKey)
		if err == nil && limit > 0 {
			r.localCache.Store(apiKey, cacheEntry{
				limit:     limit,
				expiresAt: time.Now().Add(r.ttl),
			})
			return limit
		}
	}

	return r.defaultLimit
}

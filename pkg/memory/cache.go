package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// retrieveContextTTL bounds how stale a cached RetrieveContext answer can
// be before the next lookup falls through to Postgres again. Short enough
// that a fix recorded mid-incident is visible to the next run well within
// one resolution attempt's lifetime.
const retrieveContextTTL = 2 * time.Minute

func cacheKey(fingerprint string) string {
	return "resolveops:memory:retrieve_context:" + fingerprint
}

// CachedStore wraps a Store with a Redis read-through cache in front of
// RetrieveContext — the one memory lookup that runs on every single agent
// run's preparation step (spec §4.J prepare). Still best-effort: a Redis
// outage degrades to Store's direct Postgres path, never an error.
type CachedStore struct {
	*Store
	rdb *redis.Client
	log *slog.Logger
}

// NewCached builds a CachedStore over an existing Store and a Redis
// client. rdb may be nil, in which case every call passes straight
// through to the underlying Store.
func NewCached(store *Store, rdb *redis.Client, log *slog.Logger) *CachedStore {
	if log == nil {
		log = slog.Default()
	}
	return &CachedStore{Store: store, rdb: rdb, log: log}
}

// RetrieveContext serves from Redis when possible, falling back to (and
// repopulating from) the wrapped Store on a cache miss or Redis error.
func (c *CachedStore) RetrieveContext(ctx context.Context, fingerprint string) RetrievedContext {
	if c.rdb == nil {
		return c.Store.RetrieveContext(ctx, fingerprint)
	}

	key := cacheKey(fingerprint)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached RetrievedContext
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached
		}
	} else if err != redis.Nil {
		c.log.Warn("memory.cache: redis get failed, falling through to store", "fingerprint", fingerprint, "error", err)
	}

	result := c.Store.RetrieveContext(ctx, fingerprint)

	if encoded, err := json.Marshal(result); err == nil {
		if err := c.rdb.Set(ctx, key, encoded, retrieveContextTTL).Err(); err != nil {
			c.log.Warn("memory.cache: redis set failed", "fingerprint", fingerprint, "error", err)
		}
	}
	return result
}

// invalidate drops the cached entry for fingerprint so the next
// RetrieveContext call observes a just-recorded fix immediately instead
// of waiting out retrieveContextTTL.
func (c *CachedStore) invalidate(ctx context.Context, fingerprint string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(fingerprint)).Err(); err != nil {
		c.log.Warn("memory.cache: redis invalidate failed", "fingerprint", fingerprint, "error", err)
	}
}

// StoreFix writes through the wrapped Store, then invalidates the cache
// entry so the new fix is immediately visible.
func (c *CachedStore) StoreFix(ctx context.Context, fingerprint, errorType, description string) {
	c.Store.StoreFix(ctx, fingerprint, errorType, description)
	c.invalidate(ctx, fingerprint)
}

// StoreFixWithWorkspace writes through the wrapped Store, then
// invalidates the cache entry so the new fix is immediately visible.
func (c *CachedStore) StoreFixWithWorkspace(ctx context.Context, fingerprint, errorType, description, patchBlob string, wc WorkspaceContext) {
	c.Store.StoreFixWithWorkspace(ctx, fingerprint, errorType, description, patchBlob, wc)
	c.invalidate(ctx, fingerprint)
}

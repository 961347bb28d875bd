// Package cache keeps agency snapshots in Redis in front of the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

const (
	defaultPrefix = "voyagedesk:agency:"
	defaultTTL    = 30 * time.Second
)

var (
	_ auth.AgencyDirectory  = (*AgencyCache)(nil)
	_ auth.CacheInvalidator = (*AgencyCache)(nil)
)

// AgencyCache is a read-through AgencyDirectory. Each agency is stored as a
// single JSON value, so a reader always gets one whole snapshot. Redis
// failures fall back to the source; staleness is bounded by the TTL and by
// explicit invalidation on writes.
type AgencyCache struct {
	rdb    redis.UniversalClient
	source auth.AgencyDirectory
	ttl    time.Duration
	prefix string
}

// Option configures AgencyCache.
type Option func(*AgencyCache)

// WithTTL bounds how long a snapshot may be served after it was loaded.
func WithTTL(ttl time.Duration) Option {
	return func(c *AgencyCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *AgencyCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func NewAgencyCache(rdb redis.UniversalClient, source auth.AgencyDirectory, opts ...Option) (*AgencyCache, error) {
	if rdb == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if source == nil {
		return nil, errors.New("cache: agency source is required")
	}
	c := &AgencyCache{rdb: rdb, source: source, ttl: defaultTTL, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *AgencyCache) key(id string) string {
	return c.prefix + id
}

// GetAgency serves from Redis, loading from the source on a miss. Unknown
// agencies are not cached.
func (c *AgencyCache) GetAgency(ctx context.Context, id string) (auth.Agency, error) {
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	switch {
	case err == nil:
		var a auth.Agency
		if err := json.Unmarshal(raw, &a); err == nil {
			return a, nil
		}
		obs.Logger().Warn().Str("agency_id", id).Msg("agency_cache_corrupt")
	case !errors.Is(err, redis.Nil):
		obs.Logger().Warn().Err(err).Str("agency_id", id).Msg("agency_cache_read_failed")
	}

	a, err := c.source.GetAgency(ctx, id)
	if err != nil {
		return auth.Agency{}, err
	}
	if data, err := json.Marshal(a); err == nil {
		if err := c.rdb.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
			obs.Logger().Warn().Err(err).Str("agency_id", id).Msg("agency_cache_write_failed")
		}
	}
	return a, nil
}

// InvalidateAgency drops the cached snapshot for id.
func (c *AgencyCache) InvalidateAgency(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("invalidate agency %s: %w", id, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *AgencyCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

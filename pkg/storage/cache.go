package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/settings"
)

// CacheMetrics receives hit/miss counts for exported telemetry.
type CacheMetrics interface {
	RecordCacheHit(ctx context.Context, kind string)
	RecordCacheMiss(ctx context.Context, kind string)
}

// CachedStore layers a Redis cache (with a small in-process LRU in front)
// over another Store. Identity lookups and settings reads are cached; every
// write path invalidates the affected keys before returning, so a read
// after a write in the same process never sees the stale entry.
type CachedStore struct {
	inner   Store
	redis   *redis.Client
	l1      *lru.Cache[string, []byte]
	ttl     map[string]time.Duration
	metrics CacheMetrics
}

// SetMetrics attaches a hit/miss recorder. Nil disables recording.
func (c *CachedStore) SetMetrics(m CacheMetrics) {
	c.metrics = m
}

// NewCachedStore connects to Redis and wraps the inner store.
func NewCachedStore(inner Store, config Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewCachedStoreWithClient(inner, client, config)
}

// NewCachedStoreWithClient wraps an existing Redis client, for tests.
func NewCachedStoreWithClient(inner Store, client *redis.Client, config Config) (*CachedStore, error) {
	size := config.L1CacheSize
	if size <= 0 {
		size = 4096
	}
	l1, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create l1 cache: %w", err)
	}

	ttl := config.CacheTTL
	if ttl == nil {
		ttl = DefaultConfig().CacheTTL
	}

	return &CachedStore{inner: inner, redis: client, l1: l1, ttl: ttl}, nil
}

func identityEmailKey(email string) string { return "identity:email:" + email }
func identityIDKey(id string) string       { return "identity:id:" + id }
func settingsKey(userID, appSlug string) string {
	return "settings:" + userID + ":" + appSlug
}
func settingsAppsKey(userID string) string { return "settings:apps:" + userID }

func (c *CachedStore) get(ctx context.Context, key, kind string, dest interface{}) bool {
	if data, ok := c.l1.Get(key); ok {
		if json.Unmarshal(data, dest) == nil {
			c.recordHit(ctx, kind)
			return true
		}
		c.l1.Remove(key)
	}

	data, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.recordMiss(ctx, kind)
		return false
	} else if err != nil {
		c.recordMiss(ctx, kind)
		return false // degrade to the inner store on cache errors
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		c.redis.Del(ctx, key)
		c.recordMiss(ctx, kind)
		return false
	}
	c.l1.Add(key, []byte(data))
	c.recordHit(ctx, kind)
	return true
}

func (c *CachedStore) recordHit(ctx context.Context, kind string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, kind)
	}
}

func (c *CachedStore) recordMiss(ctx context.Context, kind string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(ctx, kind)
	}
}

func (c *CachedStore) set(ctx context.Context, key, kind string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.l1.Add(key, data)
	c.redis.Set(ctx, key, data, c.ttl[kind])
}

func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.l1.Remove(key)
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
	}
}

// GetByEmail implements identity.Store.
func (c *CachedStore) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	email = identity.Normalize(email)

	var cached identity.Identity
	if c.get(ctx, identityEmailKey(email), "identity", &cached) {
		return &cached, nil
	}

	ident, err := c.inner.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	c.set(ctx, identityEmailKey(email), "identity", ident)
	return ident, nil
}

// GetByID implements identity.Store.
func (c *CachedStore) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	var cached identity.Identity
	if c.get(ctx, identityIDKey(id), "identity", &cached) {
		return &cached, nil
	}

	ident, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, identityIDKey(id), "identity", ident)
	return ident, nil
}

// Apply implements identity.Store, invalidating every identity the
// decision touches: the survivor, the absorbed duplicates, and all their
// addresses.
func (c *CachedStore) Apply(ctx context.Context, d *identity.Decision) error {
	keys := []string{identityIDKey(d.Identity.ID)}
	for _, e := range d.Identity.Emails {
		keys = append(keys, identityEmailKey(e.Email))
	}
	for _, id := range d.DeleteIDs {
		keys = append(keys, identityIDKey(id))
		if gone, err := c.inner.GetByID(ctx, id); err == nil {
			for _, e := range gone.Emails {
				keys = append(keys, identityEmailKey(e.Email))
			}
		}
	}
	if prev, err := c.inner.GetByID(ctx, d.Identity.ID); err == nil {
		for _, e := range prev.Emails {
			keys = append(keys, identityEmailKey(e.Email))
		}
	}

	if err := c.inner.Apply(ctx, d); err != nil {
		return err
	}
	c.invalidate(ctx, keys...)
	return nil
}

// AddAlias implements identity.Store.
func (c *CachedStore) AddAlias(ctx context.Context, identityID, email string) error {
	if err := c.inner.AddAlias(ctx, identityID, email); err != nil {
		return err
	}
	c.invalidate(ctx, identityIDKey(identityID), identityEmailKey(identity.Normalize(email)))
	return nil
}

// RecordLogin implements identity.Store.
func (c *CachedStore) RecordLogin(ctx context.Context, email string, at time.Time) error {
	if err := c.inner.RecordLogin(ctx, email, at); err != nil {
		return err
	}

	email = identity.Normalize(email)
	keys := []string{identityEmailKey(email)}
	if owner, err := c.inner.GetByEmail(ctx, email); err == nil {
		keys = append(keys, identityIDKey(owner.ID))
		for _, e := range owner.Emails {
			keys = append(keys, identityEmailKey(e.Email))
		}
	}
	c.invalidate(ctx, keys...)
	return nil
}

// List implements Store. Listings bypass the cache.
func (c *CachedStore) List(ctx context.Context) ([]*identity.Identity, error) {
	return c.inner.List(ctx)
}

// RowsFor implements settings.Store.
func (c *CachedStore) RowsFor(ctx context.Context, userID, appSlug string) ([]settings.Row, error) {
	var cached []settings.Row
	if c.get(ctx, settingsKey(userID, appSlug), "settings", &cached) {
		return cached, nil
	}

	rows, err := c.inner.RowsFor(ctx, userID, appSlug)
	if err != nil {
		return nil, err
	}
	c.set(ctx, settingsKey(userID, appSlug), "settings", rows)
	return rows, nil
}

// AppSlugs implements settings.Store.
func (c *CachedStore) AppSlugs(ctx context.Context, userID string) ([]string, error) {
	var cached []string
	if c.get(ctx, settingsAppsKey(userID), "settings", &cached) {
		return cached, nil
	}

	slugs, err := c.inner.AppSlugs(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, settingsAppsKey(userID), "settings", slugs)
	return slugs, nil
}

// PutRow implements settings.Store.
func (c *CachedStore) PutRow(ctx context.Context, userID, appSlug string, row settings.Row) error {
	if err := c.inner.PutRow(ctx, userID, appSlug, row); err != nil {
		return err
	}
	c.invalidate(ctx, settingsKey(userID, appSlug), settingsAppsKey(userID))
	return nil
}

// UpdateRows implements settings.TxStore. When the inner store has a
// transactional path the cycle runs there under its lock; otherwise the
// rows are loaded and written back through the plain store methods, leaving
// serialization to the caller. Either way the cached rows for the pair are
// invalidated after the write.
func (c *CachedStore) UpdateRows(ctx context.Context, userID, appSlug string, fn func(existing []settings.Row) ([]settings.Row, error)) error {
	update := func() error {
		if tx, ok := c.inner.(settings.TxStore); ok {
			return tx.UpdateRows(ctx, userID, appSlug, fn)
		}
		existing, err := c.inner.RowsFor(ctx, userID, appSlug)
		if err != nil {
			return err
		}
		changed, err := fn(existing)
		if err != nil {
			return err
		}
		for _, row := range changed {
			if err := c.inner.PutRow(ctx, userID, appSlug, row); err != nil {
				return err
			}
		}
		return nil
	}

	if err := update(); err != nil {
		return err
	}
	c.invalidate(ctx, settingsKey(userID, appSlug), settingsAppsKey(userID))
	return nil
}

// DeleteRowsMatchingPrefix implements settings.Store.
func (c *CachedStore) DeleteRowsMatchingPrefix(ctx context.Context, userID, appSlug, prefix string) (int64, error) {
	n, err := c.inner.DeleteRowsMatchingPrefix(ctx, userID, appSlug, prefix)
	if err != nil {
		return n, err
	}
	c.invalidate(ctx, settingsKey(userID, appSlug), settingsAppsKey(userID))
	return n, nil
}

// HealthCheck implements Store.
func (c *CachedStore) HealthCheck(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}
	return c.inner.HealthCheck(ctx)
}

// Close implements Store.
func (c *CachedStore) Close() error {
	c.redis.Close()
	return c.inner.Close()
}

var (
	_ Store            = (*CachedStore)(nil)
	_ settings.TxStore = (*CachedStore)(nil)
)

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Cache is a JSON-valued view over a Store that never fails. Store errors,
// panics and undecodable entries are logged and reported as misses, so a
// cache outage only costs latency. A nil Cache or a nil Store is a permanent
// miss.
type Cache struct {
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Cache {
	return &Cache{
		store: store,
		log:   log.With().Str("component", "cache").Logger(),
	}
}

// Enabled reports whether a backing store is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// GetJSON decodes the entry at key into dst and reports whether it was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) (hit bool) {
	if !c.Enabled() {
		return false
	}
	defer c.recover("get", key, &hit)

	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Str("op", "get").Msg("cache error, treating as miss")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Str("op", "decode").Msg("cache entry undecodable, treating as miss")
		return false
	}
	return true
}

// SetJSON stores v at key with the given TTL. Failures are logged only.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	defer c.recover("set", key, nil)

	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Str("op", "encode").Msg("cache value not encodable")
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Str("op", "set").Msg("cache error, value not cached")
	}
}

// Delete evicts key. Failures are logged only.
func (c *Cache) Delete(ctx context.Context, key string) {
	if !c.Enabled() {
		return
	}
	defer c.recover("delete", key, nil)

	if err := c.store.Delete(ctx, key); err != nil {
		c.log.Warn().Err(err).Str("key", key).Str("op", "delete").Msg("cache error, key not evicted")
	}
}

// Ping checks the backing store. It is the only method that surfaces errors
// and is meant for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Ping(ctx)
}

func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) recover(op, key string, hit *bool) {
	if r := recover(); r != nil {
		c.log.Error().Str("key", key).Str("op", op).Str("panic", fmt.Sprint(r)).Msg("cache panic recovered")
		if hit != nil {
			*hit = false
		}
	}
}

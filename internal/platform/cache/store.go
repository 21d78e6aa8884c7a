// Package cache provides the best-effort result cache used by the vocabulary
// engine: pluggable key/value stores and a wrapper that never fails.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store is a byte-oriented key/value store with per-entry TTL.
// Get reports a miss as (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Options selects and configures a Store.
type Options struct {
	Backend    string
	RedisURL   string
	BadgerPath string
}

// Open builds the Store named by opts.Backend. BackendNone yields a nil Store,
// which the Cache wrapper treats as a permanent miss. A remote backend that is
// down at startup still yields a Store; only bad options are errors.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendBadger:
		s, err := OpenBadgerStore(opts.BadgerPath, false, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// StartMaintenance starts the background housekeeping store needs until ctx
// is done: expiry sweeps for the memory store, value-log GC for Badger.
func StartMaintenance(ctx context.Context, store Store, interval time.Duration) {
	switch s := store.(type) {
	case *MemoryStore:
		s.StartCleanup(ctx, interval)
	case *BadgerStore:
		s.StartGC(ctx, interval)
	}
}

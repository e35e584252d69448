// Package assetcache stores short-lived asset lookups so repeated preview
// requests for the same asset do not hit the Site API every time.
//
// Three backends share the Cache interface: Memory for a single process,
// SQLite for a cache that survives restarts and Redis for a cache shared
// between preview servers.
package assetcache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-valued store with per-entry time to live. All
// implementations are safe for concurrent use.
type Cache interface {
	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key for ttl. A ttl of zero or less stores
	// nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Purge removes every entry owned by the cache.
	Purge(ctx context.Context) error
}

// Config selects and tunes a cache backend.
type Config struct {
	// Backend is one of "memory", "sqlite", "redis" or "none".
	Backend    string `json:"backend"`
	TTLSeconds int    `json:"ttl_sec"`

	// RedisAddr and friends are only used by the redis backend.
	RedisAddr     string `json:"redis_addr"`
	RedisUsername string `json:"redis_username"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
}

// DefaultConfig returns an in-memory cache keeping entries for a minute.
func DefaultConfig() Config {
	return Config{
		Backend:     "memory",
		TTLSeconds:  60,
		RedisAddr:   "127.0.0.1:6379",
		RedisPrefix: "frond:asset:",
	}
}

// TTL returns the configured time to live.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error { return nil }
func (Nop) Purge(context.Context) error { return nil }

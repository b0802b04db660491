package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

const (
	KeyDrillAlerts   = "alerts:drill"
	KeyHealthAlerts  = "alerts:health"
	KeyLatestDrill   = "reading:drill"
	KeyLatestVitals  = "reading:vitals"
	KeyCommandsTotal = "commands:total"
)

// Cache holds the server's shared counters and latest snapshots. A zero
// TTL means the entry never expires.
type Cache interface {
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	Get(ctx context.Context, key string) (any, error)

	Increment(ctx context.Context, key string) (int64, error)

	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)

	// Counter returns the value of a counter key, zero if it is missing.
	Counter(ctx context.Context, key string) (int64, error)

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Items     int   `json:"items"`
	Expired   int   `json:"expired"`
	Accesses  int64 `json:"accesses"`
	Evictions int64 `json:"evictions"`
	MaxSize   int   `json:"max_size"`
}

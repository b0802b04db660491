package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type MemoryCache struct {
	items     map[string]*CacheItem
	mutex     sync.RWMutex
	maxSize   int
	ttl       time.Duration
	logger    *zap.Logger
	cleanup   *time.Ticker
	stopCh    chan struct{}
	closeOnce sync.Once
	evictions int64
	now       func() time.Time
}

type CacheItem struct {
	Value       any
	ExpiresAt   time.Time
	LastUsed    time.Time
	AccessCount int64
}

func (i *CacheItem) expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// NewMemoryCache creates an LRU cache. ttl is the expiry of new counters; zero keeps entries until evicted.
func NewMemoryCache(maxSize int, ttl time.Duration, logger *zap.Logger) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	cache := &MemoryCache{
		items:   make(map[string]*CacheItem),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	cache.cleanup = time.NewTicker(1 * time.Minute)
	go cache.cleanupExpired()

	return cache
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictLRU()
	}

	c.items[key] = &CacheItem{
		Value:       value,
		ExpiresAt:   c.expiry(ttl),
		LastUsed:    c.now(),
		AccessCount: 1,
	}

	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, exists := c.items[key]
	if !exists {
		return nil, ErrCacheMiss
	}

	now := c.now()
	if item.expired(now) {
		delete(c.items, key)
		return nil, ErrCacheMiss
	}

	item.LastUsed = now
	item.AccessCount++
	return item.Value, nil
}

func (c *MemoryCache) Increment(ctx context.Context, key string) (int64, error) {
	return c.IncrementBy(ctx, key, 1)
}

func (c *MemoryCache) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	item, exists := c.items[key]
	if !exists || item.expired(now) {
		if !exists && len(c.items) >= c.maxSize {
			c.evictLRU()
		}
		c.items[key] = &CacheItem{
			Value:       delta,
			ExpiresAt:   c.expiry(c.ttl),
			LastUsed:    now,
			AccessCount: 1,
		}
		return delta, nil
	}

	count, ok := item.Value.(int64)
	if !ok {
		c.logger.Warn("Overwriting non-counter cache entry", zap.String("key", key))
		count = 0
	}
	count += delta
	item.Value = count
	item.LastUsed = now
	item.AccessCount++
	return count, nil
}

func (c *MemoryCache) Counter(ctx context.Context, key string) (int64, error) {
	v, err := c.Get(ctx, key)
	if err == ErrCacheMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return n, nil
}

func (c *MemoryCache) GetStats(ctx context.Context) (*CacheStats, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	stats := &CacheStats{
		Items:     len(c.items),
		Evictions: c.evictions,
		MaxSize:   c.maxSize,
	}
	for _, item := range c.items {
		if item.expired(now) {
			stats.Expired++
		}
		stats.Accesses += item.AccessCount
	}

	return stats, nil
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		c.cleanup.Stop()
		close(c.stopCh)
	})
	return nil
}

func (c *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.items {
		if oldestKey == "" || item.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.LastUsed
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.evictions++
		c.logger.Debug("Evicted cache entry", zap.String("key", oldestKey))
	}
}

func (c *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanup.C:
			c.mutex.Lock()
			now := c.now()
			for key, item := range c.items {
				if item.expired(now) {
					delete(c.items, key)
				}
			}
			c.mutex.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

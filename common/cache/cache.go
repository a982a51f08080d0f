package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/mediagrab/common/logger"
)

// Cache interface for key-value storage
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryCache is an in-process TTL cache
type MemoryCache struct {
	data map[string]*cacheEntry
	mu   sync.RWMutex
	log  logger.Interface
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Option configures a MemoryCache
type Option func(*MemoryCache)

// WithClock replaces time.Now, used by tests to simulate expiry
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates a new in-memory cache and starts its janitor
func NewMemoryCache(log logger.Interface, opts ...Option) *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]*cacheEntry),
		log:  log,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanup(time.Minute)

	return c
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || c.now().After(entry.expiresAt) {
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores a value in cache with TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		return nil
	}
	c.data[key] = &cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}

	return nil
}

// Delete removes a value from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Close stops the janitor and drops all entries
func (c *MemoryCache) Close() error {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.data = nil
		c.mu.Unlock()
		c.log.Info("memory cache closed")
	})
	return nil
}

func (c *MemoryCache) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemoryCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"entries": len(c.data),
		"type":    "memory",
	}
}

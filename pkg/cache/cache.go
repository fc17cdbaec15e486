// Package cache implements the shared response cache of the proxy: a
// byte-budget LRU guarded by a single reader/writer lock.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/skaris/proxyd/pkg/lru"
)

var nopLogger = zap.NewNop()

// Config fixes the cache limits. Both values are immutable after New.
type Config struct {
	// MaxTotalBytes bounds the sum of all stored payload lengths.
	MaxTotalBytes int64 `yaml:"max_total_bytes"`

	// MaxEntryBytes bounds a single payload. Larger payloads are
	// silently dropped on Put.
	MaxEntryBytes int64 `yaml:"max_entry_bytes"`
}

func (c *Config) validate() error {
	if c.MaxTotalBytes <= 0 {
		return fmt.Errorf("invalid max_total_bytes: %d", c.MaxTotalBytes)
	}
	if c.MaxEntryBytes <= 0 {
		return fmt.Errorf("invalid max_entry_bytes: %d", c.MaxEntryBytes)
	}
	if c.MaxEntryBytes > c.MaxTotalBytes {
		return errors.New("max_entry_bytes is larger than max_total_bytes")
	}
	return nil
}

// Cache is a goroutine-safe response store keyed by request fingerprint.
//
// Lock discipline: Put and Close take the write lock for their whole
// critical section. Get probes under the read lock first, then releases
// it and re-probes under the write lock before promoting the entry. The
// upgrade is not atomic, so the second probe can legitimately miss.
type Cache struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	lru    *lru.LRU[string]

	hits      atomic.Int64
	misses    atomic.Int64
	inserts   atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nopLogger
	}

	c := &Cache{
		cfg:    cfg,
		logger: logger,
	}
	c.lru = lru.New[string](cfg.MaxTotalBytes, cfg.MaxEntryBytes, c.onEvict)
	return c, nil
}

// onEvict runs inside the write lock.
func (c *Cache) onEvict(key string, size int) {
	c.evictions.Add(1)
	c.logger.Info("cache evict", zap.String("key", key), zap.Int("size", size))
}

// Get returns a private copy of the payload stored under key, promoting
// the entry to most recently used. The returned slice is owned by the
// caller. ok is false on a miss or after Close.
func (c *Cache) Get(key string) (payload []byte, ok bool) {
	c.mu.RLock()
	if c.closed || !c.lru.Peek(key) {
		c.mu.RUnlock()
		c.misses.Add(1)
		return nil, false
	}
	c.mu.RUnlock()

	// Promotion mutates the recency list, which needs the write lock.
	// Another goroutine may evict or replace the entry between the two
	// lock acquisitions, so the probe has to run again.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.misses.Add(1)
		return nil, false
	}
	p, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	c.hits.Add(1)
	return buf, true
}

// Put stores a private copy of payload under key as the most recently
// used entry, evicting from the cold end until the total budget holds.
// Oversize or empty payloads are silently dropped. Put never fails.
func (c *Cache) Put(key string, payload []byte) {
	size := int64(len(payload))
	if size == 0 || size > c.cfg.MaxEntryBytes {
		return
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.lru.Put(key, buf) {
		c.inserts.Add(1)
		c.logger.Info("cache insert",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("total", c.lru.Bytes()),
		)
	}
}

// MaxEntryBytes returns the per-entry size limit.
func (c *Cache) MaxEntryBytes() int64 {
	return c.cfg.MaxEntryBytes
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// Bytes returns the sum of all stored payload lengths.
func (c *Cache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Bytes()
}

// Keys returns all keys from most to least recently used.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Keys()
}

// Close releases all entries. Get and Put on a closed cache degrade to
// misses and no-ops. Close is safe to call multiple times.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.lru.Clear()
	return nil
}

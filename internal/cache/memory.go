package cache

import (
	"context"
	"sync"
	"time"

	"shopsync/internal/model"
)

const (
	// DefaultTTL is how long an entry stays retrievable after insertion.
	DefaultTTL = 30 * time.Second

	// DefaultMaxEntries is the size at which a put sweeps stale entries.
	DefaultMaxEntries = 1000
)

type entryKey struct {
	kind Kind
	key  model.ProductKey
}

// cacheEntry represents a cached record with its insertion time.
type cacheEntry struct {
	price    model.PriceRecord
	stock    model.StockRecord
	storedAt time.Time
}

// MemoryConfig holds configuration for the in-memory cache.
type MemoryConfig struct {
	TTL        time.Duration
	MaxEntries int

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// MemoryCache is the node-local pull-through cache.
//
// When a put finds the cache full it first removes every entry older than
// the TTL. If nothing was stale the oldest entry makes room.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[entryKey]*cacheEntry

	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

var _ RecordCache = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache, applying defaults to zero fields.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &MemoryCache{
		entries:    make(map[entryKey]*cacheEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
}

func (c *MemoryCache) isStale(e *cacheEntry, now time.Time) bool {
	return now.Sub(e.storedAt) >= c.ttl
}

// get returns a fresh entry, evicting it when stale. Callers hold mu.
func (c *MemoryCache) get(k entryKey) (*cacheEntry, bool) {
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if c.isStale(e, c.now()) {
		delete(c.entries, k)
		return nil, false
	}
	return e, true
}

// put stores e under k. Callers hold mu. A full map is swept of stale
// entries and then admits e even when nothing was removed: fresh entries
// are never dropped to make room.
func (c *MemoryCache) put(k entryKey, e *cacheEntry) {
	now := c.now()
	e.storedAt = now

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxEntries {
		c.sweep(now)
	}
	c.entries[k] = e
}

// sweep removes all stale entries. Callers hold mu.
func (c *MemoryCache) sweep(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if c.isStale(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) GetPrice(_ context.Context, key model.ProductKey) (model.PriceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.get(entryKey{kind: KindPrice, key: key})
	if !ok {
		return model.PriceRecord{}, false
	}
	return e.price, true
}

func (c *MemoryCache) PutPrice(_ context.Context, rec model.PriceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(entryKey{kind: KindPrice, key: rec.Key()}, &cacheEntry{price: rec})
}

func (c *MemoryCache) GetStock(_ context.Context, key model.ProductKey) (model.StockRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.get(entryKey{kind: KindStock, key: key})
	if !ok {
		return model.StockRecord{}, false
	}
	return e.stock, true
}

func (c *MemoryCache) PutStock(_ context.Context, rec model.StockRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(entryKey{kind: KindStock, key: rec.Key()}, &cacheEntry{stock: rec})
}

func (c *MemoryCache) EvictShop(_ context.Context, shopID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if k.key.IsShop(shopID) {
			delete(c.entries, k)
		}
	}
}

func (c *MemoryCache) EvictProduct(_ context.Context, shopID, productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if k.key.IsProduct(shopID, productID) {
			delete(c.entries, k)
		}
	}
}

// Sweep removes stale entries and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sweep(c.now())
}

func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[entryKey]*cacheEntry)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

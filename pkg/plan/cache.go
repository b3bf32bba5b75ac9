package plan

import (
	"sync"
	"sync/atomic"

	"github.com/rowforge/rowforge/pkg/schema"
)

const defaultCacheSize = 1024

// Cache shares compiled plans across insert calls, keyed by table
// fingerprint.
type Cache struct {
	mu    sync.RWMutex
	plans map[uint64]*Plan
	max   int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache builds a cache holding up to max plans. max <= 0 uses the
// default.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &Cache{plans: make(map[uint64]*Plan), max: max}
}

// For returns the cached full plan for the table layout, building it on
// first use.
func (c *Cache) For(table *schema.Table) (*Plan, error) {
	key := table.Fingerprint()

	c.mu.RLock()
	cached, ok := c.plans[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)

	built, err := Build(table)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.plans[key]; ok {
		return cached, nil
	}
	if len(c.plans) >= c.max {
		for k := range c.plans {
			delete(c.plans, k)
			break
		}
	}
	c.plans[key] = built
	return built, nil
}

// Invalidate drops the cached plan for the table's layout. Safe to
// call for layouts that were never cached.
func (c *Cache) Invalidate(table *schema.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plans, table.Fingerprint())
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

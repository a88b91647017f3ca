package store

import "sync"

type cacheKey struct {
	typ EntityType
	id  string
}

type cachedEntity struct {
	latest  Attributes
	records []Record
}

// readCache holds materialized entity views and per-type entity tallies.
// Entries are invalidated explicitly by the write path; cross-process
// mutations require InvalidateCache.
type readCache struct {
	mu       sync.RWMutex
	entities map[cacheKey]*cachedEntity
	counts   map[EntityType]int
}

func newReadCache() *readCache {
	return &readCache{
		entities: make(map[cacheKey]*cachedEntity),
		counts:   make(map[EntityType]int),
	}
}

func (c *readCache) getEntity(typ EntityType, id string) (*cachedEntity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[cacheKey{typ, id}]
	return e, ok
}

func (c *readCache) putEntity(typ EntityType, id string, e *cachedEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[cacheKey{typ, id}] = e
}

func (c *readCache) getCount(typ EntityType) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.counts[typ]
	return n, ok
}

func (c *readCache) putCount(typ EntityType, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[typ] = n
}

// invalidateEntity drops the cached view of one entity and its type tally.
func (c *readCache) invalidateEntity(typ EntityType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entities, cacheKey{typ, id})
	delete(c.counts, typ)
}

// invalidateAll drops everything, forcing the next read to re-derive state
// from disk.
func (c *readCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[cacheKey]*cachedEntity)
	c.counts = make(map[EntityType]int)
}

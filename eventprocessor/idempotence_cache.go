package eventprocessor

import (
	"container/list"
	"sync"
)

// defaultIdempotenceCacheSize bounds the processed-id cache so a
// long-running manager cannot grow it without limit, the concern the
// original source's unbounded list explicitly left unresolved.
const defaultIdempotenceCacheSize = 10000

// idempotenceCache is a thread-safe bounded LRU set of resource ids already
// processed by an EventProcessorManager, so a redelivered termination event
// results in exactly one delete. Structurally the same doubly-linked-list +
// map LRU the cache-manager's L1Cache uses, sized by entry count rather
// than by TTL since membership here never expires.
type idempotenceCache struct {
	mu       sync.Mutex
	maxSize  int
	elements map[string]*list.Element
	order    *list.List
}

func newIdempotenceCache(maxSize int) *idempotenceCache {
	if maxSize <= 0 {
		maxSize = defaultIdempotenceCacheSize
	}
	return &idempotenceCache{
		maxSize:  maxSize,
		elements: make(map[string]*list.Element, maxSize),
		order:    list.New(),
	}
}

// seen reports whether id was already marked processed.
func (c *idempotenceCache) seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elements[id]
	if !ok {
		return false
	}
	c.order.MoveToFront(elem)
	return true
}

// mark records id as processed, evicting the least-recently-used id (by
// mark or seen) if the cache is at capacity.
func (c *idempotenceCache) mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.elements[id]; ok {
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.elements, oldest.Value.(string))
		}
	}

	elem := c.order.PushFront(id)
	c.elements[id] = elem
}

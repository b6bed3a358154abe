package processing

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kacperjurak/goimpfit"
)

// DefaultCircuitCacheSize bounds the number of parsed circuits kept per
// processor.
const DefaultCircuitCacheSize = 256

type cacheEntry struct {
	key      uint64
	topology string
	circuit  *goimpfit.Circuit
}

// circuitCache is a least-recently-used cache of parsed circuits keyed by
// the xxhash of the topology string.
type circuitCache struct {
	mu      sync.Mutex
	size    int
	order   *list.List // front is the most recently used
	entries map[uint64]*list.Element
}

func newCircuitCache(size int) *circuitCache {
	if size < 1 {
		size = 1
	}
	return &circuitCache{
		size:    size,
		order:   list.New(),
		entries: make(map[uint64]*list.Element, size),
	}
}

func (c *circuitCache) get(topology string) (*goimpfit.Circuit, bool) {
	key := xxhash.Sum64String(topology)

	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok || el.Value.(*cacheEntry).topology != topology {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).circuit, true
}

// add stores circuit, evicting the least recently used entry when full. A
// colliding topology replaces the entry.
func (c *circuitCache) add(topology string, circuit *goimpfit.Circuit) {
	key := xxhash.Sum64String(topology)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value = &cacheEntry{key: key, topology: topology, circuit: circuit}
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, topology: topology, circuit: circuit})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *circuitCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

package scheduler

import "container/list"

// DefaultCacheCapacity bounds the memory tier when no capacity is configured.
const DefaultCacheCapacity = 5000

type cacheKey struct {
	text       string
	sourceLang string
	targetLang string
}

type cacheEntry struct {
	key    cacheKey
	text   string
	engine string
}

// lru is the memory tier. It is guarded by the scheduler mutex.
type lru struct {
	capacity int
	order    *list.List
	items    map[cacheKey]*list.Element
}

func newLRU(capacity int) *lru {
	return &lru{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

func (c *lru) get(key cacheKey) (cacheEntry, bool) {
	if c.capacity <= 0 {
		return cacheEntry{}, false
	}
	el, ok := c.items[key]
	if !ok {
		return cacheEntry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(cacheEntry), true
}

func (c *lru) add(entry cacheEntry) {
	if c.capacity <= 0 {
		return
	}
	if el, ok := c.items[entry.key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	c.items[entry.key] = c.order.PushFront(entry)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(cacheEntry).key)
	}
}

func (c *lru) len() int {
	return c.order.Len()
}

func (c *lru) clear() {
	c.order.Init()
	c.items = make(map[cacheKey]*list.Element)
}

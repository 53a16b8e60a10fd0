package enrich

import (
	"container/list"
	"sync"
	"time"
)

// resultCache is an LRU cache with TTL for enrichment results, keyed by
// indicator value. External enrichment services are rate-limited and the
// same indicator recurs across feeds, so repeated enrichment is wasted work.
type resultCache struct {
	maxSize int
	ttl     time.Duration
	items   map[string]*cacheItem
	lruList *list.List
	mu      sync.Mutex
}

type cacheItem struct {
	key       string
	value     map[string]string
	element   *list.Element
	expiresAt time.Time
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	c := &resultCache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*cacheItem),
		lruList: list.New(),
	}
	go c.cleanup()
	return c
}

func (c *resultCache) Get(key string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		c.remove(item)
		return nil, false
	}
	c.lruList.MoveToFront(item.element)
	return item.value, true
}

func (c *resultCache) Set(key string, value map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok {
		item.value = value
		item.expiresAt = time.Now().Add(c.ttl)
		c.lruList.MoveToFront(item.element)
		return
	}
	item := &cacheItem{key: key, value: value, expiresAt: time.Now().Add(c.ttl)}
	item.element = c.lruList.PushFront(item)
	c.items[key] = item
	if len(c.items) > c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.remove(oldest.Value.(*cacheItem))
		}
	}
}

func (c *resultCache) remove(item *cacheItem) {
	delete(c.items, item.key)
	c.lruList.Remove(item.element)
}

func (c *resultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *resultCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		var expired []*cacheItem
		for _, item := range c.items {
			if now.After(item.expiresAt) {
				expired = append(expired, item)
			}
		}
		for _, item := range expired {
			c.remove(item)
		}
		c.mu.Unlock()
	}
}

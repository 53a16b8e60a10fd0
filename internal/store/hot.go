package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
)

// Hot is the in-memory tier: a bounded LRU keyed by (type, value) fronted by
// a bloom filter for fast negative lookups. It is authoritative for
// real-time detection; a miss here is answered as "no match" without
// touching warm storage.
type Hot struct {
	cache  *lru.Cache[string, indicator.Indicator]
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewHot creates a hot tier with the given capacity. The bloom filter is
// sized for roughly ten times the LRU capacity at ~1% false positives, so
// evicted keys keep answering "might exist" and fall through to a plain
// LRU miss.
func NewHot(capacity int) (*Hot, error) {
	h := &Hot{
		filter: bloom.New(uint(capacity)*100, 5),
	}
	cache, err := lru.NewWithEvict[string, indicator.Indicator](capacity,
		func(key string, _ indicator.Indicator) {
			quality.HotEvictions.Inc()
		})
	if err != nil {
		return nil, err
	}
	h.cache = cache
	return h, nil
}

// Get returns the indicator for key. The bloom filter short-circuits keys
// that were never inserted.
func (h *Hot) Get(key string) (indicator.Indicator, bool) {
	h.mu.RLock()
	maybe := h.filter.Test([]byte(key))
	h.mu.RUnlock()
	if !maybe {
		quality.HotMisses.Inc()
		return indicator.Indicator{}, false
	}
	ind, ok := h.cache.Get(key)
	if ok {
		quality.HotHits.Inc()
	} else {
		quality.HotMisses.Inc()
	}
	return ind, ok
}

// Put inserts or replaces the indicator under its natural key.
func (h *Hot) Put(ind indicator.Indicator) {
	key := ind.Key()
	h.mu.Lock()
	h.filter.Add([]byte(key))
	h.mu.Unlock()
	h.cache.Add(key, ind)
}

// Remove drops the key from the LRU. The bloom filter cannot forget, so a
// removed key degrades to an ordinary cache miss.
func (h *Hot) Remove(key string) {
	h.cache.Remove(key)
}

// Len returns the number of resident entries.
func (h *Hot) Len() int { return h.cache.Len() }

// Purge empties the tier.
func (h *Hot) Purge() { h.cache.Purge() }

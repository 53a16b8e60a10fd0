package lifecycle

import (
	"sync"
	"time"

	"threatpipe/internal/indicator"
)

// WhitelistEntry marks one (type, value) key as benign, with an optional
// expiry after which the entry stops applying.
type WhitelistEntry struct {
	Type      indicator.Type `yaml:"type" json:"type"`
	Value     string         `yaml:"value" json:"value"`
	ExpiresAt time.Time      `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Whitelist is the injected set of keys immune to aging and excluded from
// detection. It is swapped atomically on config reload.
type Whitelist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewWhitelist(entries []WhitelistEntry) *Whitelist {
	w := &Whitelist{}
	w.Swap(entries)
	return w
}

// Swap replaces the whole whitelist, normalizing values the same way the
// pipeline does.
func (w *Whitelist) Swap(entries []WhitelistEntry) {
	m := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		key := indicator.Key(e.Type, indicator.Normalize(e.Type, e.Value))
		m[key] = e.ExpiresAt
	}
	w.mu.Lock()
	w.entries = m
	w.mu.Unlock()
}

// Contains reports whether key is whitelisted at the given instant.
func (w *Whitelist) Contains(key string, now time.Time) bool {
	w.mu.RLock()
	expires, ok := w.entries[key]
	w.mu.RUnlock()
	if !ok {
		return false
	}
	return expires.IsZero() || now.Before(expires)
}

// Len returns the number of entries, counting expired ones until the next
// Swap.
func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

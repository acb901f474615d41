package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

// ResultCache holds marshaled filter-evaluation results (the record array
// and its count, not the stamped envelope) keyed by the filter spec's
// canonical string. It is bounded: when full, the oldest-inserted entry is
// evicted. Its TTL should be shorter than the snapshot TTL so a cached
// result never outlives the snapshot it was computed from.
type ResultCache struct {
	clock      clockwork.Clock
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]resultEntry
	order   []string
}

type resultEntry struct {
	records  []byte
	count    int
	storedAt time.Time
}

// NewResultCache builds a bounded result cache.
func NewResultCache(clock clockwork.Clock, ttl time.Duration, maxEntries int) *ResultCache {
	return &ResultCache{
		clock:      clock,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]resultEntry),
	}
}

// Get returns the cached records and count for a canonical filter string,
// or false if absent or expired.
func (c *ResultCache) Get(canonical string) ([]byte, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[canonical]
	if !ok || c.clock.Since(entry.storedAt) >= c.ttl {
		metrics.ResultCacheResults.WithLabelValues("miss").Inc()
		return nil, 0, false
	}
	metrics.ResultCacheResults.WithLabelValues("hit").Inc()
	return entry.records, entry.count, true
}

// Put stores a result, evicting the oldest-inserted entry if the cache is
// at capacity.
func (c *ResultCache) Put(canonical string, records []byte, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[canonical]; !exists {
		if len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, canonical)
	}
	c.entries[canonical] = resultEntry{records: records, count: count, storedAt: c.clock.Now()}
}

// Clear empties the cache. Called when a freshly committed upstream batch
// makes previously computed results stale.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]resultEntry)
	c.order = c.order[:0]
}

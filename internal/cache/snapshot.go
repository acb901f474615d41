// Package cache provides the short-TTL snapshot cache that sits between the
// persistent store and the fan-out path, plus a small bounded cache for
// per-filter-group evaluation results.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

// Loader fetches the full current record set from the persistent store.
type Loader[T any] func(ctx context.Context) ([]T, error)

// Snapshot caches the full record set of one domain. Reads are served from
// memory while the entry is younger than the TTL; the write path never goes
// through here, it only invalidates.
type Snapshot[T any] struct {
	name     string
	loader   Loader[T]
	clock    clockwork.Clock
	ttl      time.Duration
	safeDrop time.Duration

	mu        sync.Mutex
	data      []T
	fetchedAt time.Time
	valid     bool
}

// NewSnapshot builds a snapshot cache. safeDrop is the age beyond which a
// soft invalidation actually drops the entry; it must be >= ttl.
func NewSnapshot[T any](name string, loader Loader[T], clock clockwork.Clock, ttl, safeDrop time.Duration) *Snapshot[T] {
	return &Snapshot[T]{
		name:     name,
		loader:   loader,
		clock:    clock,
		ttl:      ttl,
		safeDrop: safeDrop,
	}
}

// Get returns the cached snapshot if it is still fresh, otherwise refetches
// from the store and caches the result with a new timestamp.
func (s *Snapshot[T]) Get(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	if s.valid && s.clock.Since(s.fetchedAt) < s.ttl {
		data := s.data
		s.mu.Unlock()
		metrics.SnapshotCacheResults.WithLabelValues(s.name, "hit").Inc()
		return data, nil
	}
	s.mu.Unlock()

	metrics.SnapshotCacheResults.WithLabelValues(s.name, "miss").Inc()

	data, err := s.loader(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.data = data
	s.fetchedAt = s.clock.Now()
	s.valid = true
	s.mu.Unlock()

	return data, nil
}

// Invalidate marks the cache stale. With force set the entry is dropped
// immediately. Without force the entry is only dropped once it is older than
// the safe-drop threshold; younger entries are left to expire via the TTL so
// a burst of writes does not turn every read into a store round-trip.
func (s *Snapshot[T]) Invalidate(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid {
		return
	}
	if force || s.clock.Since(s.fetchedAt) > s.safeDrop {
		s.data = nil
		s.valid = false
	}
}

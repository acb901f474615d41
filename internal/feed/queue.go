// Package feed contains the upstream adapters: the push-based finance feed,
// the polling scores feed, and the pending-update queue both drain through.
package feed

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Queue collapses bursts of upstream updates: it keeps only the most recent
// value per key within the current batch window.
type Queue[K comparable, V any] struct {
	mu      sync.Mutex
	pending map[K]V
}

// NewQueue creates an empty pending-update queue.
func NewQueue[K comparable, V any]() *Queue[K, V] {
	return &Queue[K, V]{pending: make(map[K]V)}
}

// Put inserts or replaces the update for a key. Last value wins.
func (q *Queue[K, V]) Put(key K, value V) {
	q.mu.Lock()
	q.pending[key] = value
	q.mu.Unlock()
}

// Len returns the number of distinct keys waiting.
func (q *Queue[K, V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain atomically snapshots and clears the queue.
func (q *Queue[K, V]) Drain() map[K]V {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = make(map[K]V)
	return out
}

const (
	// Small queues wait longer to accumulate a batch; once the queue
	// reaches fastDrainThreshold the delay shortens to cap latency.
	slowDrainDelay     = 500 * time.Millisecond
	fastDrainDelay     = 100 * time.Millisecond
	fastDrainThreshold = 10
)

// drainScheduler arms at most one drain timer at a time. Scheduling while a
// drain is already pending is a no-op, so a burst of enqueues produces a
// single drain.
type drainScheduler struct {
	clock clockwork.Clock
	fire  func()

	mu      sync.Mutex
	pending bool
}

func newDrainScheduler(clock clockwork.Clock, fire func()) *drainScheduler {
	return &drainScheduler{clock: clock, fire: fire}
}

// Schedule arms the drain timer if none is pending, picking the delay from
// the current queue size.
func (d *drainScheduler) Schedule(queueLen int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending {
		return
	}
	d.pending = true

	delay := slowDrainDelay
	if queueLen >= fastDrainThreshold {
		delay = fastDrainDelay
	}

	d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		d.pending = false
		d.mu.Unlock()
		d.fire()
	})
}

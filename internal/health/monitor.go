// Package health runs the upstream half of the connection health monitor:
// a periodic check that forces a reconnect when a push feed looks open but
// has gone silent. The client half (liveness probes) lives in the
// broadcaster's probe sweep.
package health

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Target is a push upstream the monitor watches.
type Target interface {
	// LastMessage reports when data last arrived.
	LastMessage() time.Time
	// ForceReconnect tears the transport down so the feed's own reconnect
	// loop takes over.
	ForceReconnect(reason string)
}

// Monitor checks its targets on a fixed interval.
type Monitor struct {
	clock      clockwork.Clock
	interval   time.Duration
	staleAfter time.Duration
	targets    []Target
}

// NewMonitor builds a monitor. staleAfter is how long a feed may stay silent
// before its connection is declared dead despite being open.
func NewMonitor(clock clockwork.Clock, interval, staleAfter time.Duration, targets ...Target) *Monitor {
	return &Monitor{
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
		targets:    targets,
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) sweep() {
	for _, t := range m.targets {
		if m.clock.Since(t.LastMessage()) > m.staleAfter {
			t.ForceReconnect("no upstream data within stale threshold")
		}
	}
}

package health

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type fakeTarget struct {
	mu          sync.Mutex
	lastMessage time.Time
	reconnects  []string
}

func (f *fakeTarget) LastMessage() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessage
}

func (f *fakeTarget) ForceReconnect(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects = append(f.reconnects, reason)
}

func (f *fakeTarget) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reconnects)
}

func TestSweepIgnoresFreshFeed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	target := &fakeTarget{lastMessage: clock.Now()}
	m := NewMonitor(clock, 30*time.Second, 2*time.Minute, target)

	clock.Advance(time.Minute)
	m.sweep()

	assert.Equal(t, 0, target.reconnectCount())
}

func TestSweepReconnectsStaleFeed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	target := &fakeTarget{lastMessage: clock.Now()}
	m := NewMonitor(clock, 30*time.Second, 2*time.Minute, target)

	clock.Advance(3 * time.Minute)
	m.sweep()

	assert.Equal(t, 1, target.reconnectCount())
}

func TestSweepChecksEveryTarget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stale := &fakeTarget{lastMessage: clock.Now().Add(-5 * time.Minute)}
	fresh := &fakeTarget{lastMessage: clock.Now()}
	m := NewMonitor(clock, 30*time.Second, 2*time.Minute, stale, fresh)

	m.sweep()

	assert.Equal(t, 1, stale.reconnectCount())
	assert.Equal(t, 0, fresh.reconnectCount())
}

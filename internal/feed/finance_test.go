package feed

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon-relentnet/scrollr-sub000/internal/cache"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
)

type fakeTradeStore struct {
	stored   []domain.Trade
	upserted []domain.Trade
}

func (s *fakeTradeStore) Upsert(_ context.Context, t domain.Trade) error {
	s.upserted = append(s.upserted, t)
	return nil
}

func (s *fakeTradeStore) GetAll(context.Context) ([]domain.Trade, error) {
	return s.stored, nil
}

func newTestFinanceFeed(t *testing.T, store *fakeTradeStore, notify func()) (*FinanceFeed, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	snapshot := cache.NewSnapshot("finance", store.GetAll, clock, 5*time.Second, 30*time.Second)
	results := cache.NewResultCache(clock, 2*time.Second, 8)
	cfg := FinanceFeedConfig{
		Symbols: []string{"AAPL"},
		Sectors: map[string]string{"AAPL": "tech"},
	}
	return NewFinanceFeed(cfg, store, snapshot, results, notify, clock), clock
}

func TestHandleMessageEnqueuesTrades(t *testing.T) {
	f, _ := newTestFinanceFeed(t, &fakeTradeStore{}, func() {})

	f.handleMessage([]byte(`{"type":"trade","data":[{"s":"AAPL","p":150.5,"t":1700000000000,"v":10}]}`))

	assert.Equal(t, 1, f.queue.Len())
}

func TestHandleMessageCoalescesSameSymbol(t *testing.T) {
	f, _ := newTestFinanceFeed(t, &fakeTradeStore{}, func() {})

	f.handleMessage([]byte(`{"type":"trade","data":[{"s":"AAPL","p":150,"t":1,"v":1},{"s":"AAPL","p":151,"t":2,"v":1}]}`))

	require.Equal(t, 1, f.queue.Len())
	batch := f.queue.Drain()
	assert.Equal(t, 151.0, batch["AAPL"].Price)
}

func TestHandleMessageIgnoresMalformedFrames(t *testing.T) {
	f, _ := newTestFinanceFeed(t, &fakeTradeStore{}, func() {})

	f.handleMessage([]byte(`not json at all`))
	f.handleMessage([]byte(`{"type":"ping"}`))
	f.handleMessage([]byte(`{"type":"trade","data":[{"s":"","p":100},{"s":"AAPL","p":-1}]}`))

	assert.Equal(t, 0, f.queue.Len())
}

func TestDrainDerivesAndCommits(t *testing.T) {
	store := &fakeTradeStore{
		stored: []domain.Trade{{Symbol: "AAPL", PreviousClose: 140}},
	}
	notified := 0
	f, _ := newTestFinanceFeed(t, store, func() { notified++ })

	f.queue.Put("AAPL", rawTrade{Symbol: "AAPL", Price: 150, Timestamp: 1700000000000})
	f.drain()

	require.Len(t, store.upserted, 1)
	got := store.upserted[0]
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, 150.0, got.Price)
	assert.Equal(t, 140.0, got.PreviousClose)
	assert.InDelta(t, 7.1428, got.PercentChange, 0.001)
	assert.Equal(t, domain.DirectionUp, got.Direction)
	assert.Equal(t, "tech", got.Sector)
	assert.Equal(t, 1, notified)
}

func TestDrainSkipsSymbolsWithoutBaseline(t *testing.T) {
	store := &fakeTradeStore{}
	notified := 0
	f, _ := newTestFinanceFeed(t, store, func() { notified++ })

	// No stored baseline and no quote endpoint configured, so the tick
	// cannot be derived and the drain commits nothing.
	f.queue.Put("UNKNOWN", rawTrade{Symbol: "UNKNOWN", Price: 10, Timestamp: 1})
	f.drain()

	assert.Empty(t, store.upserted)
	assert.Equal(t, 0, notified)
}

func TestDrainEmptyQueueIsNoOp(t *testing.T) {
	notified := 0
	f, _ := newTestFinanceFeed(t, &fakeTradeStore{}, func() { notified++ })

	f.drain()

	assert.Equal(t, 0, notified)
}

func TestHealthyTracksLastMessage(t *testing.T) {
	f, clock := newTestFinanceFeed(t, &fakeTradeStore{}, func() {})

	assert.True(t, f.Healthy(2*time.Minute))

	clock.Advance(3 * time.Minute)
	assert.False(t, f.Healthy(2*time.Minute))

	// The read loop stamps lastMessage on every inbound frame.
	f.mu.Lock()
	f.lastMessage = clock.Now()
	f.mu.Unlock()
	assert.True(t, f.Healthy(2*time.Minute))
}

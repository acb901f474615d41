package broadcast

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon-relentnet/scrollr-sub000/internal/cache"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
)

const (
	testThrottle      = time.Second
	testProbeInterval = 30 * time.Second
)

type testRecord struct {
	Symbol string `json:"symbol"`
}

// testDomain evaluates against the symbol bucket only, which is enough to
// exercise grouping, caching and the empty-spec rule.
func testDomain(snapshot []testRecord, evals *atomic.Int64) Domain[testRecord] {
	return Domain[testRecord]{
		Name: "finance",
		Snapshot: func(context.Context) ([]testRecord, error) {
			return snapshot, nil
		},
		Evaluate: func(snapshot []testRecord, spec domain.FilterSpec) []testRecord {
			if evals != nil {
				evals.Add(1)
			}
			if spec.Empty() || len(spec.Symbols) == 0 {
				return nil
			}
			var out []testRecord
			for _, r := range snapshot {
				if _, ok := spec.Symbols[r.Symbol]; ok {
					out = append(out, r)
				}
			}
			return out
		},
		UpdateType:   domain.MsgFinancialUpdate,
		GetAllType:   domain.MsgGetAllTrades,
		SnapshotType: domain.MsgAllTradesData,
	}
}

func newTestBroadcaster(t *testing.T, dom Domain[testRecord], clock clockwork.Clock, maxClients int) *Broadcaster[testRecord] {
	t.Helper()
	results := cache.NewResultCache(clock, 500*time.Millisecond, 8)
	b := New(dom, results, clock, testThrottle, testProbeInterval, maxClients)
	t.Cleanup(b.Stop)
	return b
}

func serverMessages(conn *fakeConn) []domain.ServerMessage {
	var out []domain.ServerMessage
	for _, data := range conn.framesOfType(websocket.TextMessage) {
		var msg domain.ServerMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func hasMessageType(conn *fakeConn, msgType string) bool {
	for _, msg := range serverMessages(conn) {
		if msg.Type == msgType {
			return true
		}
	}
	return false
}

func waitForMessageType(t *testing.T, conn *fakeConn, msgType string) domain.ServerMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		return hasMessageType(conn, msgType)
	}, time.Second, 5*time.Millisecond, "expected a %q frame", msgType)
	for _, msg := range serverMessages(conn) {
		if msg.Type == msgType {
			return msg
		}
	}
	return domain.ServerMessage{}
}

func TestRegisterSendsWelcome(t *testing.T) {
	b := newTestBroadcaster(t, testDomain(nil, nil), clockwork.NewFakeClock(), 10)
	conn := &fakeConn{}

	id, err := b.Register(conn)
	require.NoError(t, err)
	assert.NotEqual(t, id.String(), "00000000-0000-0000-0000-000000000000")

	msg := waitForMessageType(t, conn, domain.MsgWelcome)
	assert.Contains(t, msg.Message, "finance")
	assert.Equal(t, 1, b.ClientCount())
}

func TestRegisterRejectsWhenFull(t *testing.T) {
	b := newTestBroadcaster(t, testDomain(nil, nil), clockwork.NewFakeClock(), 1)

	_, err := b.Register(&fakeConn{})
	require.NoError(t, err)

	second := &fakeConn{}
	_, err = b.Register(second)
	assert.Error(t, err)
	assert.True(t, second.isClosed())
	assert.Equal(t, 1, b.ClientCount())
}

func TestUnregisterRemovesSession(t *testing.T) {
	b := newTestBroadcaster(t, testDomain(nil, nil), clockwork.NewFakeClock(), 10)
	conn := &fakeConn{}

	id, err := b.Register(conn)
	require.NoError(t, err)

	b.Unregister(id)
	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// Duplicate unregister from the error path is harmless.
	b.Unregister(id)
	assert.Equal(t, 0, b.ClientCount())
}

func TestInboundConnectionAndPing(t *testing.T) {
	b := newTestBroadcaster(t, testDomain(nil, nil), clockwork.NewFakeClock(), 10)
	conn := &fakeConn{}
	id, err := b.Register(conn)
	require.NoError(t, err)

	b.Inbound(id, []byte(`{"type":"connection"}`))
	waitForMessageType(t, conn, domain.MsgConnectionConfirmed)

	b.Inbound(id, []byte(`{"type":"ping","timestamp":123}`))
	waitForMessageType(t, conn, domain.MsgPong)
}

func TestInboundMalformedAndUnknownKeepConnectionOpen(t *testing.T) {
	b := newTestBroadcaster(t, testDomain(nil, nil), clockwork.NewFakeClock(), 10)
	conn := &fakeConn{}
	id, err := b.Register(conn)
	require.NoError(t, err)

	b.Inbound(id, []byte(`not json`))
	waitForMessageType(t, conn, domain.MsgError)

	b.Inbound(id, []byte(`{"type":"subscribe_weather"}`))
	assert.Eventually(t, func() bool {
		count := 0
		for _, msg := range serverMessages(conn) {
			if msg.Type == domain.MsgError {
				count++
			}
		}
		return count == 2
	}, time.Second, 5*time.Millisecond)

	assert.False(t, conn.isClosed())
	assert.Equal(t, 1, b.ClientCount())
}

func TestFilterRequestRepliesImmediately(t *testing.T) {
	snapshot := []testRecord{{Symbol: "AAPL"}, {Symbol: "MSFT"}}
	b := newTestBroadcaster(t, testDomain(snapshot, nil), clockwork.NewFakeClock(), 10)
	conn := &fakeConn{}
	id, err := b.Register(conn)
	require.NoError(t, err)

	b.Inbound(id, []byte(`{"type":"filter_request","filters":["symbol_AAPL"]}`))

	msg := waitForMessageType(t, conn, domain.MsgFilteredData)
	require.NotNil(t, msg.Count)
	assert.Equal(t, 1, *msg.Count)
	assert.Equal(t, []string{"symbol_AAPL"}, msg.Filters)

	records, ok := msg.Data.([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	record, ok := records[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AAPL", record["symbol"])
}

func TestGetAllReturnsFullSnapshot(t *testing.T) {
	snapshot := []testRecord{{Symbol: "AAPL"}, {Symbol: "MSFT"}}
	b := newTestBroadcaster(t, testDomain(snapshot, nil), clockwork.NewFakeClock(), 10)
	conn := &fakeConn{}
	id, err := b.Register(conn)
	require.NoError(t, err)

	b.Inbound(id, []byte(`{"type":"get_all_trades"}`))

	msg := waitForMessageType(t, conn, domain.MsgAllTradesData)
	require.NotNil(t, msg.Count)
	assert.Equal(t, 2, *msg.Count)
}

func TestBroadcastGroupsByCanonicalSpec(t *testing.T) {
	var evals atomic.Int64
	snapshot := []testRecord{{Symbol: "AAPL"}, {Symbol: "MSFT"}}
	clock := clockwork.NewFakeClock()
	b := newTestBroadcaster(t, testDomain(snapshot, &evals), clock, 10)

	first, second := &fakeConn{}, &fakeConn{}
	id1, err := b.Register(first)
	require.NoError(t, err)
	id2, err := b.Register(second)
	require.NoError(t, err)

	// Same spec, different token order: one evaluation serves both.
	b.Inbound(id1, []byte(`{"type":"filter_request","filters":["symbol_AAPL","symbol_MSFT"]}`))
	b.Inbound(id2, []byte(`{"type":"filter_request","filters":["symbol_MSFT","symbol_AAPL"]}`))
	waitForMessageType(t, first, domain.MsgFilteredData)
	waitForMessageType(t, second, domain.MsgFilteredData)

	before := evals.Load()
	b.RequestBroadcast()
	clock.BlockUntil(2)
	clock.Advance(testThrottle)

	msg1 := waitForMessageType(t, first, domain.MsgFinancialUpdate)
	msg2 := waitForMessageType(t, second, domain.MsgFinancialUpdate)
	require.NotNil(t, msg1.Count)
	assert.Equal(t, 2, *msg1.Count)
	require.NotNil(t, msg2.Count)
	assert.Equal(t, 2, *msg2.Count)

	assert.Equal(t, before+1, evals.Load(), "identical specs should be evaluated once per pass")
}

func TestFirstBroadcastHonorsThrottleWindow(t *testing.T) {
	snapshot := []testRecord{{Symbol: "AAPL"}}
	clock := clockwork.NewFakeClock()
	b := newTestBroadcaster(t, testDomain(snapshot, nil), clock, 10)

	conn := &fakeConn{}
	id, err := b.Register(conn)
	require.NoError(t, err)
	b.Inbound(id, []byte(`{"type":"filter_request","filters":["symbol_AAPL"]}`))
	waitForMessageType(t, conn, domain.MsgFilteredData)

	b.RequestBroadcast()
	clock.BlockUntil(2)

	// Inside the throttle window nothing is pushed yet.
	clock.Advance(testThrottle / 2)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, hasMessageType(conn, domain.MsgFinancialUpdate))

	clock.Advance(testThrottle / 2)
	waitForMessageType(t, conn, domain.MsgFinancialUpdate)
}

func TestCachedGroupResultsAreRestamped(t *testing.T) {
	var evals atomic.Int64
	snapshot := []testRecord{{Symbol: "AAPL"}}
	clock := clockwork.NewFakeClock()
	results := cache.NewResultCache(clock, time.Minute, 8)
	b := New(testDomain(snapshot, &evals), results, clock, testThrottle, testProbeInterval, 10)
	t.Cleanup(b.Stop)

	conn := &fakeConn{}
	id, err := b.Register(conn)
	require.NoError(t, err)
	b.Inbound(id, []byte(`{"type":"filter_request","filters":["symbol_AAPL"]}`))
	waitForMessageType(t, conn, domain.MsgFilteredData)

	b.RequestBroadcast()
	clock.BlockUntil(2)
	clock.Advance(testThrottle)
	waitForMessageType(t, conn, domain.MsgFinancialUpdate)
	evalsAfterFirst := evals.Load()

	b.RequestBroadcast()
	clock.BlockUntil(2)
	clock.Advance(testThrottle)

	countUpdates := func() []domain.ServerMessage {
		var out []domain.ServerMessage
		for _, msg := range serverMessages(conn) {
			if msg.Type == domain.MsgFinancialUpdate {
				out = append(out, msg)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(countUpdates()) == 2 }, time.Second, 5*time.Millisecond)

	updates := countUpdates()
	assert.Equal(t, evalsAfterFirst, evals.Load(), "second pass should reuse the cached evaluation")
	assert.Greater(t, updates[1].Timestamp, updates[0].Timestamp, "cached results get a fresh stamp")
	assert.Equal(t, updates[0].Data, updates[1].Data)
}

func TestBroadcastSkipsEmptySpecClients(t *testing.T) {
	snapshot := []testRecord{{Symbol: "AAPL"}}
	clock := clockwork.NewFakeClock()
	b := newTestBroadcaster(t, testDomain(snapshot, nil), clock, 10)

	conn := &fakeConn{}
	_, err := b.Register(conn)
	require.NoError(t, err)
	waitForMessageType(t, conn, domain.MsgWelcome)

	b.RequestBroadcast()
	clock.BlockUntil(2)
	clock.Advance(testThrottle)

	// Give the pass time to run, then confirm nothing beyond the welcome
	// frame ever arrived.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, hasMessageType(conn, domain.MsgFinancialUpdate))
}

func TestProbeSweepTerminatesSilentClient(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newTestBroadcaster(t, testDomain(nil, nil), clock, 10)

	conn := &fakeConn{}
	_, err := b.Register(conn)
	require.NoError(t, err)
	waitForMessageType(t, conn, domain.MsgWelcome)

	// First sweep marks the session suspect and sends a probe.
	clock.Advance(testProbeInterval)
	require.Eventually(t, func() bool {
		return len(conn.framesOfType(websocket.PingMessage)) >= 1
	}, time.Second, 5*time.Millisecond)

	// No pong before the second sweep: the client is terminated.
	clock.Advance(testProbeInterval)
	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
}

func TestPongKeepsClientAlive(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newTestBroadcaster(t, testDomain(nil, nil), clock, 10)

	conn := &fakeConn{}
	_, err := b.Register(conn)
	require.NoError(t, err)
	waitForMessageType(t, conn, domain.MsgWelcome)

	clock.Advance(testProbeInterval)
	require.Eventually(t, func() bool {
		return len(conn.framesOfType(websocket.PingMessage)) >= 1
	}, time.Second, 5*time.Millisecond)

	// Answer the probe the way the transport would.
	conn.mu.Lock()
	pongHandler := conn.pongHandler
	conn.mu.Unlock()
	require.NotNil(t, pongHandler)
	require.NoError(t, pongHandler(""))

	// A ClientCount round-trip guarantees the pong was processed before the
	// next sweep; commands and the pong share the same ordered channel.
	require.Equal(t, 1, b.ClientCount())

	clock.Advance(testProbeInterval)
	require.Eventually(t, func() bool {
		return len(conn.framesOfType(websocket.PingMessage)) >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.ClientCount())
}

func TestStopClosesClientsGracefully(t *testing.T) {
	b := New(testDomain(nil, nil), cache.NewResultCache(clockwork.NewFakeClock(), time.Second, 8), clockwork.NewFakeClock(), testThrottle, testProbeInterval, 10)

	conn := &fakeConn{}
	_, err := b.Register(conn)
	require.NoError(t, err)
	waitForMessageType(t, conn, domain.MsgWelcome)

	b.Stop()

	closeFrames := conn.framesOfType(websocket.CloseMessage)
	require.Len(t, closeFrames, 1)
	expected := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	assert.Equal(t, expected, closeFrames[0])
	assert.True(t, conn.isClosed())
}

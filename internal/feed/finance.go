package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/cache"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

const (
	financeFeedName  = "finance"
	reconnectBase    = 1 * time.Second
	reconnectCap     = 30 * time.Second
	drainStoreBudget = 10 * time.Second
)

// rawTrade is one upstream tick before derivation.
type rawTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}

// financeWireMessage is the upstream envelope: trade batches plus
// housekeeping frames ("ping") we ignore.
type financeWireMessage struct {
	Type string     `json:"type"`
	Data []rawTrade `json:"data"`
}

// FinanceFeedConfig carries everything the feed needs from the service config.
type FinanceFeedConfig struct {
	WSURL   string
	RESTURL string
	APIKey  string
	Symbols []string
	Sectors map[string]string
}

// FinanceFeed owns the connection to the push upstream. Raw ticks are
// coalesced into the pending queue and periodically drained: derived fields
// are computed against previous-close baselines, committed to the store, the
// snapshot cache is invalidated, and a broadcast pass is requested.
type FinanceFeed struct {
	cfg      FinanceFeedConfig
	store    domain.TradeStore
	snapshot *cache.Snapshot[domain.Trade]
	results  *cache.ResultCache
	notify   func()
	clock    clockwork.Clock
	dialer   *websocket.Dialer

	queue  *Queue[string, rawTrade]
	sched  *drainScheduler
	quotes *quoteClient

	mu          sync.Mutex
	conn        *websocket.Conn
	lastMessage time.Time
}

// NewFinanceFeed wires the finance upstream adapter. notify is called after
// every committed drain, normally the broadcaster's RequestBroadcast.
func NewFinanceFeed(cfg FinanceFeedConfig, store domain.TradeStore, snapshot *cache.Snapshot[domain.Trade], results *cache.ResultCache, notify func(), clock clockwork.Clock) *FinanceFeed {
	f := &FinanceFeed{
		cfg:         cfg,
		store:       store,
		snapshot:    snapshot,
		results:     results,
		notify:      notify,
		clock:       clock,
		dialer:      websocket.DefaultDialer,
		queue:       NewQueue[string, rawTrade](),
		quotes:      newQuoteClient(cfg.RESTURL, cfg.APIKey, clock),
		lastMessage: clock.Now(),
	}
	f.sched = newDrainScheduler(clock, f.drain)
	return f
}

// Run connects and keeps reconnecting with capped exponential backoff until
// ctx is cancelled. Individual malformed messages never abort the loop.
func (f *FinanceFeed) Run(ctx context.Context) {
	bo := newBackoff(reconnectBase, reconnectCap)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := f.connect(ctx); err != nil {
			delay := bo.Next()
			slog.Warn("Finance feed connect failed", "error", err, "retry_in", delay)
			metrics.FeedReconnectsTotal.WithLabelValues(financeFeedName).Inc()
			if !f.sleep(ctx, delay) {
				return
			}
			continue
		}

		bo.Reset()
		slog.Info("Finance feed connected", "symbols", len(f.cfg.Symbols))

		err := f.readLoop(ctx)
		f.closeConn()
		if ctx.Err() != nil {
			return
		}

		delay := bo.Next()
		slog.Warn("Finance feed disconnected", "error", err, "retry_in", delay)
		metrics.FeedReconnectsTotal.WithLabelValues(financeFeedName).Inc()
		if !f.sleep(ctx, delay) {
			return
		}
	}
}

func (f *FinanceFeed) connect(ctx context.Context) error {
	wsURL := f.cfg.WSURL + "?token=" + url.QueryEscape(f.cfg.APIKey)
	conn, _, err := f.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial upstream: %w", err)
	}

	for _, symbol := range f.cfg.Symbols {
		sub := map[string]string{"type": "subscribe", "symbol": symbol}
		if err := conn.WriteJSON(sub); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to subscribe %s: %w", symbol, err)
		}
	}

	f.mu.Lock()
	f.conn = conn
	f.lastMessage = f.clock.Now()
	f.mu.Unlock()
	return nil
}

func (f *FinanceFeed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("upstream read failed: %w", err)
		}

		f.mu.Lock()
		f.lastMessage = f.clock.Now()
		f.mu.Unlock()

		f.handleMessage(data)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleMessage parses one upstream frame and enqueues its ticks, keeping
// only the latest tick per symbol within the batch window.
func (f *FinanceFeed) handleMessage(data []byte) {
	var msg financeWireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.FeedMessagesTotal.WithLabelValues(financeFeedName, "malformed").Inc()
		slog.Debug("Discarding malformed upstream message", "feed", financeFeedName, "error", err)
		return
	}

	if msg.Type != "trade" || len(msg.Data) == 0 {
		return
	}
	metrics.FeedMessagesTotal.WithLabelValues(financeFeedName, "ok").Inc()

	for _, tick := range msg.Data {
		if tick.Symbol == "" || tick.Price <= 0 {
			metrics.FeedMessagesTotal.WithLabelValues(financeFeedName, "skipped").Inc()
			continue
		}
		f.queue.Put(tick.Symbol, tick)
	}

	f.sched.Schedule(f.queue.Len())
}

// drain commits the coalesced batch: baseline lookup, derivation, store
// upserts, cache invalidation, then a broadcast request. Entries without a
// usable baseline are logged and skipped, never fatal.
func (f *FinanceFeed) drain() {
	entries := f.queue.Drain()
	if len(entries) == 0 {
		return
	}
	metrics.FeedDrainBatchSize.WithLabelValues(financeFeedName).Observe(float64(len(entries)))

	ctx, cancel := context.WithTimeout(context.Background(), drainStoreBudget)
	defer cancel()

	baselines := f.baselines(ctx, entries)

	committed := 0
	for symbol, tick := range entries {
		baseline, ok := baselines[symbol]
		if !ok || baseline <= 0 {
			slog.Warn("Skipping tick without baseline", "symbol", symbol)
			metrics.FeedMessagesTotal.WithLabelValues(financeFeedName, "skipped").Inc()
			continue
		}

		trade := domain.DeriveTrade(symbol, tick.Price, baseline, time.UnixMilli(tick.Timestamp))
		trade.Sector = f.cfg.Sectors[symbol]

		if err := f.store.Upsert(ctx, trade); err != nil {
			slog.Error("Trade upsert failed", "symbol", symbol, "error", err)
			continue
		}
		committed++
	}

	if committed == 0 {
		return
	}

	// Writes are committed before the caches move: invalidate-after-write is
	// what keeps a broadcast pass from resurrecting stale data.
	f.snapshot.Invalidate(false)
	f.results.Clear()
	f.notify()
}

// baselines resolves previous closes for the drained symbols: stored values
// first, the quote endpoint for whatever is left.
func (f *FinanceFeed) baselines(ctx context.Context, entries map[string]rawTrade) map[string]float64 {
	out := make(map[string]float64, len(entries))

	stored, err := f.store.GetAll(ctx)
	if err != nil {
		slog.Warn("Baseline snapshot read failed, falling back to quote lookups", "error", err)
	} else {
		for _, t := range stored {
			if t.PreviousClose > 0 {
				out[t.Symbol] = t.PreviousClose
			}
		}
	}

	var missing []string
	for symbol := range entries {
		if _, ok := out[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) > 0 {
		for symbol, pc := range f.quotes.PreviousCloses(ctx, missing) {
			out[symbol] = pc
		}
	}

	return out
}

// LastMessage reports when upstream data last arrived. Used by the health
// monitor's stale-data check.
func (f *FinanceFeed) LastMessage() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessage
}

// ForceReconnect tears down an apparently open but silent connection; the
// read loop then fails and Run reconnects.
func (f *FinanceFeed) ForceReconnect(reason string) {
	slog.Warn("Forcing finance feed reconnect", "reason", reason)
	metrics.FeedStaleReconnects.WithLabelValues(financeFeedName).Inc()
	f.closeConn()
}

// Healthy reports whether data arrived recently enough for the health
// endpoint to consider the feed up.
func (f *FinanceFeed) Healthy(staleAfter time.Duration) bool {
	return f.clock.Since(f.LastMessage()) < staleAfter
}

func (f *FinanceFeed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func (f *FinanceFeed) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-f.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

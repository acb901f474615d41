package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

const (
	quoteTimeout    = 5 * time.Second
	quoteBatchSize  = 5
	quoteBatchDelay = 250 * time.Millisecond
)

// quoteClient fetches previous-close baselines from the upstream quote
// endpoint. The endpoint is rate limited, so lookups run in small sequential
// batches with a delay in between, behind a circuit breaker so a broken
// upstream fails fast instead of stalling every drain.
type quoteClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	clock   clockwork.Clock
	cb      circuitbreaker.CircuitBreaker[any]
}

func newQuoteClient(baseURL, apiKey string, clock clockwork.Clock) *quoteClient {
	cb := circuitbreaker.Builder[any]().
		WithFailureRateThreshold(60, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Quote circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()

	return &quoteClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: quoteTimeout},
		clock:   clock,
		cb:      cb,
	}
}

type quoteResponse struct {
	Current       float64 `json:"c"`
	PreviousClose float64 `json:"pc"`
}

// PreviousCloses resolves baselines for the given symbols. Failed lookups are
// logged and omitted from the result; the caller skips those records.
func (q *quoteClient) PreviousCloses(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))

	for i := 0; i < len(symbols); i += quoteBatchSize {
		end := i + quoteBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		for _, symbol := range symbols[i:end] {
			pc, err := q.previousClose(ctx, symbol)
			if err != nil {
				metrics.QuoteLookupFailures.Inc()
				slog.Warn("Previous close lookup failed", "symbol", symbol, "error", err)
				continue
			}
			out[symbol] = pc
		}

		if end < len(symbols) {
			select {
			case <-q.clock.After(quoteBatchDelay):
			case <-ctx.Done():
				return out
			}
		}
	}

	return out
}

func (q *quoteClient) previousClose(ctx context.Context, symbol string) (float64, error) {
	if !q.cb.TryAcquirePermit() {
		return 0, fmt.Errorf("quote lookup rejected: %w", circuitbreaker.ErrOpen)
	}

	reqURL := fmt.Sprintf("%s/quote?symbol=%s&token=%s", q.baseURL, url.QueryEscape(symbol), url.QueryEscape(q.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		q.cb.RecordError(err)
		return 0, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		q.cb.RecordError(err)
		return 0, fmt.Errorf("quote request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("quote endpoint returned %d", resp.StatusCode)
		q.cb.RecordError(err)
		return 0, err
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		q.cb.RecordError(err)
		return 0, fmt.Errorf("failed to decode quote response: %w", err)
	}

	q.cb.RecordSuccess()
	if quote.PreviousClose <= 0 {
		return 0, fmt.Errorf("quote has no usable previous close")
	}
	return quote.PreviousClose, nil
}

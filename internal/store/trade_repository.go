package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

// TradeRepository persists trade snapshots keyed by symbol.
type TradeRepository struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

var _ domain.TradeStore = (*TradeRepository)(nil)

func NewTradeRepository(pool *pgxpool.Pool, clock clockwork.Clock) *TradeRepository {
	return &TradeRepository{pool: pool, clock: clock}
}

// Upsert inserts or replaces the snapshot for a symbol. Running it twice
// with the same input leaves one row with identical fields.
func (r *TradeRepository) Upsert(ctx context.Context, t domain.Trade) error {
	start := r.clock.Now()

	const query = `
		INSERT INTO trades (symbol, price, previous_close, price_change, percentage_change, direction, sector, asset_type, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			price = EXCLUDED.price,
			previous_close = EXCLUDED.previous_close,
			price_change = EXCLUDED.price_change,
			percentage_change = EXCLUDED.percentage_change,
			direction = EXCLUDED.direction,
			sector = EXCLUDED.sector,
			asset_type = EXCLUDED.asset_type,
			last_updated = EXCLUDED.last_updated`

	_, err := r.pool.Exec(ctx, query,
		t.Symbol, t.Price, t.PreviousClose, t.PriceChange, t.PercentChange,
		int(t.Direction), t.Sector, t.AssetType, t.LastUpdated,
	)

	r.observe("upsert", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert trade %s: %w", t.Symbol, err)
	}
	return nil
}

// GetAll returns the full current trade snapshot ordered by symbol.
func (r *TradeRepository) GetAll(ctx context.Context) ([]domain.Trade, error) {
	start := r.clock.Now()

	const query = `
		SELECT symbol, price, previous_close, price_change, percentage_change, direction, sector, asset_type, last_updated
		FROM trades
		ORDER BY symbol`

	rows, err := r.pool.Query(ctx, query)
	r.observe("get_all", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var direction int
		if err := rows.Scan(&t.Symbol, &t.Price, &t.PreviousClose, &t.PriceChange, &t.PercentChange, &direction, &t.Sector, &t.AssetType, &t.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Direction = domain.Direction(direction)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trade rows: %w", err)
	}

	return trades, nil
}

func (r *TradeRepository) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues("trade", op, status).Inc()
	metrics.StoreOpDuration.WithLabelValues("trade", op).Observe(r.clock.Since(start).Seconds())
}

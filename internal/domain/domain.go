// Package domain holds the core entities, the filter grammar and the ports
// the fan-out service is built around. It has no dependencies on transport,
// storage or scheduling code.
package domain

import "context"

// TradeStore persists trade snapshots. Upsert is idempotent by symbol and
// replaces all mutable fields.
type TradeStore interface {
	Upsert(ctx context.Context, t Trade) error
	GetAll(ctx context.Context) ([]Trade, error)
}

// GameStore persists game snapshots. Upsert is idempotent by
// (league, external id) and replaces all mutable fields.
type GameStore interface {
	Upsert(ctx context.Context, g Game) error
	GetAll(ctx context.Context) ([]Game, error)
	GetByLeague(ctx context.Context, league string) ([]Game, error)
	GetLiveCount(ctx context.Context) (int, error)
}

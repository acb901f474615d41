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

// GameRepository persists game snapshots keyed by (league, external_id).
type GameRepository struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

var _ domain.GameStore = (*GameRepository)(nil)

func NewGameRepository(pool *pgxpool.Pool, clock clockwork.Clock) *GameRepository {
	return &GameRepository{pool: pool, clock: clock}
}

const gameColumns = `league, external_id, home_team, away_team, home_score, away_score, home_logo, away_logo, start_time, status_detail, state, last_updated`

// Upsert inserts or replaces the snapshot for one game.
func (r *GameRepository) Upsert(ctx context.Context, g domain.Game) error {
	start := r.clock.Now()

	const query = `
		INSERT INTO games (` + gameColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (league, external_id) DO UPDATE SET
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			home_score = EXCLUDED.home_score,
			away_score = EXCLUDED.away_score,
			home_logo = EXCLUDED.home_logo,
			away_logo = EXCLUDED.away_logo,
			start_time = EXCLUDED.start_time,
			status_detail = EXCLUDED.status_detail,
			state = EXCLUDED.state,
			last_updated = EXCLUDED.last_updated`

	_, err := r.pool.Exec(ctx, query,
		g.League, g.ExternalID, g.HomeTeam, g.AwayTeam, g.HomeScore, g.AwayScore,
		g.HomeLogo, g.AwayLogo, g.StartTime, g.StatusDetail, string(g.State), g.LastUpdated,
	)

	r.observe("upsert", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert game %s/%s: %w", g.League, g.ExternalID, err)
	}
	return nil
}

// GetAll returns the full current game snapshot.
func (r *GameRepository) GetAll(ctx context.Context) ([]domain.Game, error) {
	start := r.clock.Now()

	rows, err := r.pool.Query(ctx, `SELECT `+gameColumns+` FROM games ORDER BY league, start_time`)
	r.observe("get_all", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	return scanGames(rows)
}

// GetByLeague returns the current snapshot for one league.
func (r *GameRepository) GetByLeague(ctx context.Context, league string) ([]domain.Game, error) {
	start := r.clock.Now()

	rows, err := r.pool.Query(ctx, `SELECT `+gameColumns+` FROM games WHERE league = $1 ORDER BY start_time`, league)
	r.observe("get_by_league", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query games for league %s: %w", league, err)
	}
	defer rows.Close()

	return scanGames(rows)
}

// GetLiveCount returns how many games are currently in progress.
func (r *GameRepository) GetLiveCount(ctx context.Context) (int, error) {
	start := r.clock.Now()

	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM games WHERE state = $1`, string(domain.GameStateInProgress)).Scan(&count)
	r.observe("get_live_count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count live games: %w", err)
	}
	return count, nil
}

type gameRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanGames(rows gameRows) ([]domain.Game, error) {
	var games []domain.Game
	for rows.Next() {
		var g domain.Game
		var state string
		if err := rows.Scan(&g.League, &g.ExternalID, &g.HomeTeam, &g.AwayTeam, &g.HomeScore, &g.AwayScore,
			&g.HomeLogo, &g.AwayLogo, &g.StartTime, &g.StatusDetail, &state, &g.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}
		g.State = domain.GameState(state)
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate game rows: %w", err)
	}
	return games, nil
}

func (r *GameRepository) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues("game", op, status).Inc()
	metrics.StoreOpDuration.WithLabelValues("game", op).Observe(r.clock.Since(start).Seconds())
}

package store

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
)

var testPool *pgxpool.Pool

const testSchema = `
	CREATE TABLE trades (
		symbol TEXT PRIMARY KEY,
		price DOUBLE PRECISION NOT NULL,
		previous_close DOUBLE PRECISION NOT NULL,
		price_change DOUBLE PRECISION NOT NULL,
		percentage_change DOUBLE PRECISION NOT NULL,
		direction INT NOT NULL,
		sector TEXT NOT NULL DEFAULT '',
		asset_type TEXT NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE games (
		league TEXT NOT NULL,
		external_id TEXT NOT NULL,
		home_team TEXT NOT NULL,
		away_team TEXT NOT NULL,
		home_score TEXT NOT NULL DEFAULT '',
		away_score TEXT NOT NULL DEFAULT '',
		home_logo TEXT NOT NULL DEFAULT '',
		away_logo TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMPTZ NOT NULL,
		status_detail TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (league, external_id)
	);`

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testPool, err = Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if _, err := testPool.Exec(ctx, testSchema); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create test schema: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setupTestPool registers cleanup to truncate tables between tests.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE trades, games")
		if err != nil {
			t.Logf("Failed to truncate tables: %v", err)
		}
	})

	return testPool
}

func testTrade(symbol string, price float64) domain.Trade {
	return domain.DeriveTrade(symbol, price, 100, time.Now().UTC().Truncate(time.Millisecond))
}

func TestTradeRepositoryUpsertAndGetAll(t *testing.T) {
	repo := NewTradeRepository(setupTestPool(t), clockwork.NewRealClock())
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testTrade("MSFT", 150)))
	require.NoError(t, repo.Upsert(ctx, testTrade("AAPL", 45)))

	trades, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "AAPL", trades[0].Symbol, "snapshot should be ordered by symbol")
	assert.Equal(t, "MSFT", trades[1].Symbol)
	assert.Equal(t, domain.DirectionDown, trades[0].Direction)
}

func TestTradeRepositoryUpsertReplaces(t *testing.T) {
	repo := NewTradeRepository(setupTestPool(t), clockwork.NewRealClock())
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testTrade("AAPL", 45)))

	updated := testTrade("AAPL", 120)
	updated.Sector = "technology"
	require.NoError(t, repo.Upsert(ctx, updated))

	trades, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 120.0, trades[0].Price)
	assert.Equal(t, domain.DirectionUp, trades[0].Direction)
	assert.Equal(t, "technology", trades[0].Sector)
}

func testGame(league, id string, state domain.GameState) domain.Game {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Game{
		League:      league,
		ExternalID:  id,
		HomeTeam:    "Home " + id,
		AwayTeam:    "Away " + id,
		HomeScore:   "0",
		AwayScore:   "0",
		StartTime:   now,
		State:       state,
		LastUpdated: now,
	}
}

func TestGameRepositoryUpsertAndQueries(t *testing.T) {
	repo := NewGameRepository(setupTestPool(t), clockwork.NewRealClock())
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testGame("NFL", "1", domain.GameStateScheduled)))
	require.NoError(t, repo.Upsert(ctx, testGame("NFL", "2", domain.GameStateInProgress)))
	require.NoError(t, repo.Upsert(ctx, testGame("NBA", "3", domain.GameStateInProgress)))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	nfl, err := repo.GetByLeague(ctx, "NFL")
	require.NoError(t, err)
	assert.Len(t, nfl, 2)

	live, err := repo.GetLiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, live)
}

func TestGameRepositoryUpsertReplaces(t *testing.T) {
	repo := NewGameRepository(setupTestPool(t), clockwork.NewRealClock())
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testGame("NFL", "1", domain.GameStateInProgress)))

	final := testGame("NFL", "1", domain.GameStateFinal)
	final.HomeScore = "31"
	final.AwayScore = "24"
	final.StatusDetail = "Final"
	require.NoError(t, repo.Upsert(ctx, final))

	games, err := repo.GetByLeague(ctx, "NFL")
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "31", games[0].HomeScore)
	assert.Equal(t, domain.GameStateFinal, games[0].State)
	assert.Equal(t, "Final", games[0].StatusDetail)
}

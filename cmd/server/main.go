package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/brandon-relentnet/scrollr-sub000/internal/broadcast"
	"github.com/brandon-relentnet/scrollr-sub000/internal/cache"
	"github.com/brandon-relentnet/scrollr-sub000/internal/config"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	"github.com/brandon-relentnet/scrollr-sub000/internal/feed"
	"github.com/brandon-relentnet/scrollr-sub000/internal/filter"
	"github.com/brandon-relentnet/scrollr-sub000/internal/health"
	"github.com/brandon-relentnet/scrollr-sub000/internal/httpserver"
	"github.com/brandon-relentnet/scrollr-sub000/internal/logging"
	"github.com/brandon-relentnet/scrollr-sub000/internal/store"
)

const resultCacheEntries = 32

func setupConfig() *config.Config {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	trades := store.NewTradeRepository(pool, clock)
	games := store.NewGameRepository(pool, clock)

	tradeSnapshot := cache.NewSnapshot("finance", trades.GetAll, clock, cfg.SnapshotTTL, cfg.SnapshotSafeDrop)
	gameSnapshot := cache.NewSnapshot("sports", games.GetAll, clock, cfg.SnapshotTTL, cfg.SnapshotSafeDrop)

	tradeResults := cache.NewResultCache(clock, cfg.ResultCacheTTL, resultCacheEntries)
	gameResults := cache.NewResultCache(clock, cfg.ResultCacheTTL, resultCacheEntries)

	finance := broadcast.New(broadcast.Domain[domain.Trade]{
		Name:         "finance",
		Snapshot:     tradeSnapshot.Get,
		Evaluate:     filter.EvaluateTrades,
		UpdateType:   domain.MsgFinancialUpdate,
		GetAllType:   domain.MsgGetAllTrades,
		SnapshotType: domain.MsgAllTradesData,
	}, tradeResults, clock, cfg.ThrottleWindow, cfg.ProbeInterval, cfg.MaxClients)

	sports := broadcast.New(broadcast.Domain[domain.Game]{
		Name:         "sports",
		Snapshot:     gameSnapshot.Get,
		Evaluate:     filter.EvaluateGames,
		UpdateType:   domain.MsgGamesUpdated,
		GetAllType:   domain.MsgGetAllGames,
		SnapshotType: domain.MsgInitialData,
	}, gameResults, clock, cfg.ThrottleWindow, cfg.ProbeInterval, cfg.MaxClients)

	financeFeed := feed.NewFinanceFeed(feed.FinanceFeedConfig{
		WSURL:   cfg.FinnhubWSURL,
		RESTURL: cfg.FinnhubRESTURL,
		APIKey:  cfg.FinnhubAPIKey,
		Symbols: cfg.Symbols,
		Sectors: cfg.Sectors,
	}, trades, tradeSnapshot, tradeResults, finance.RequestBroadcast, clock)

	scoresPoller := feed.NewScoresPoller(feed.ScoresConfig{
		BaseURL: cfg.ScoresBaseURL,
		Leagues: cfg.Leagues,
	}, games, gameSnapshot, gameResults, sports.RequestBroadcast, clock)

	monitor := health.NewMonitor(clock, cfg.ProbeInterval, cfg.StaleDataAfter, financeFeed)

	feedCtx, stopFeeds := context.WithCancel(context.Background())
	go financeFeed.Run(feedCtx)
	go scoresPoller.Run(feedCtx)
	go monitor.Run(feedCtx)

	srv := httpserver.NewServer(cfg, trades, games, finance, sports, []httpserver.HealthCheck{
		{Name: "database", Critical: true, Check: store.HealthCheck(pool)},
		{Name: "finance_feed", Check: func(context.Context) error {
			if !financeFeed.Healthy(cfg.StaleDataAfter) {
				return fmt.Errorf("no upstream data within %s", cfg.StaleDataAfter)
			}
			return nil
		}},
		{Name: "sports_feed", Check: func(context.Context) error {
			if !scoresPoller.Healthy(2 * time.Hour) {
				return fmt.Errorf("no successful scoreboard poll within 2h")
			}
			return nil
		}},
	})

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("Server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("Shutdown signal received, cleaning up...")

	stopFeeds()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	finance.Stop()
	sports.Stop()

	slog.Info("Shutdown complete")
}

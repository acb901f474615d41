// Package httpserver exposes the service over HTTP: the health endpoint the
// extension polls before connecting, the Prometheus metrics route, REST
// snapshot reads, and the per-domain WebSocket endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brandon-relentnet/scrollr-sub000/internal/broadcast"
	"github.com/brandon-relentnet/scrollr-sub000/internal/config"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	apperrors "github.com/brandon-relentnet/scrollr-sub000/internal/errors"
)

// HealthCheck is a named dependency check. Critical checks failing make the
// service unhealthy; non-critical ones (the upstream feeds) only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type Server struct {
	echo         *echo.Echo
	cfg          *config.Config
	trades       domain.TradeStore
	games        domain.GameStore
	finance      *broadcast.Broadcaster[domain.Trade]
	sports       *broadcast.Broadcaster[domain.Game]
	healthChecks []HealthCheck
	upgrader     websocket.Upgrader
	startTime    time.Time
}

func NewServer(cfg *config.Config, trades domain.TradeStore, games domain.GameStore, finance *broadcast.Broadcaster[domain.Trade], sports *broadcast.Broadcaster[domain.Game], healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:         e,
		cfg:          cfg,
		trades:       trades,
		games:        games,
		finance:      finance,
		sports:       sports,
		healthChecks: healthChecks,
		upgrader: websocket.Upgrader{
			// Browser extensions connect from extension origins; the socket
			// carries no credentials, so any origin is accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/api/trades", s.handleTrades)
	s.echo.GET("/api/games/:league", s.handleGamesByLeague)
	s.echo.GET("/ws/finance", wsHandler(s, s.finance))
	s.echo.GET("/ws/sports", wsHandler(s, s.sports))
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.cfg.Port)
	if err := s.echo.Start(":" + s.cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

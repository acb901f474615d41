package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	apperrors "github.com/brandon-relentnet/scrollr-sub000/internal/errors"
)

// listResponse is the envelope for the REST snapshot endpoints.
type listResponse struct {
	Data  any `json:"data"`
	Count int `json:"count"`
}

// handleTrades returns the current trade snapshot as plain JSON, for
// consumers that want a one-shot read without opening a socket.
func (s *Server) handleTrades(c echo.Context) error {
	trades, err := s.trades.GetAll(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to load trades", err)
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return c.JSON(http.StatusOK, listResponse{Data: trades, Count: len(trades)})
}

// handleGamesByLeague returns the stored games for one tracked league,
// optionally narrowed to a single lifecycle state via ?state=pre|in|post.
func (s *Server) handleGamesByLeague(c echo.Context) error {
	league := strings.ToUpper(c.Param("league"))
	if !s.tracked(league) {
		return apperrors.NotFoundError("league is not tracked").WithContext("league", league)
	}

	state := c.QueryParam("state")
	if state != "" {
		switch domain.GameState(state) {
		case domain.GameStateScheduled, domain.GameStateInProgress, domain.GameStateFinal:
		default:
			return apperrors.ValidationError("unknown game state").
				WithContext("state", state).
				WithContext("allowed", []string{"pre", "in", "post"})
		}
	}

	games, err := s.games.GetByLeague(c.Request().Context(), league)
	if err != nil {
		return apperrors.InternalError("failed to load games", err)
	}

	out := make([]domain.Game, 0, len(games))
	for _, g := range games {
		if state == "" || g.State == domain.GameState(state) {
			out = append(out, g)
		}
	}
	return c.JSON(http.StatusOK, listResponse{Data: out, Count: len(out)})
}

func (s *Server) tracked(league string) bool {
	for _, l := range s.cfg.Leagues {
		if strings.EqualFold(l, league) {
			return true
		}
	}
	return false
}

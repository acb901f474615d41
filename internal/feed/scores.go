package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/brandon-relentnet/scrollr-sub000/internal/cache"
	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
	"github.com/brandon-relentnet/scrollr-sub000/internal/metrics"
)

const (
	sportsFeedName   = "sports"
	scoresTimeout    = 10 * time.Second
	livePollInterval = 30 * time.Second
	idlePollInterval = 60 * time.Second
)

// leaguePaths maps league names to the upstream scoreboard paths.
var leaguePaths = map[string]string{
	"NFL":   "football/nfl",
	"NCAAF": "football/college-football",
	"NBA":   "basketball/nba",
	"MLB":   "baseball/mlb",
	"NHL":   "hockey/nhl",
	"MLS":   "soccer/usa.1",
}

// ScoresConfig carries the polling adapter's settings.
type ScoresConfig struct {
	BaseURL string
	Leagues []string
}

// ScoresPoller is the pull-based upstream adapter. An hourly cron refresh
// covers schedule changes; on top of that each league runs a tight loop —
// 30s while any of its games is live, 60s otherwise — that stops on its own
// once every game of the day is final. The hourly refresh restarts stopped
// loops the next day.
type ScoresPoller struct {
	cfg      ScoresConfig
	store    domain.GameStore
	snapshot *cache.Snapshot[domain.Game]
	results  *cache.ResultCache
	notify   func()
	clock    clockwork.Clock
	http     *http.Client
	cron     *cron.Cron

	mu       sync.Mutex
	running  map[string]bool
	lastPoll time.Time
}

// NewScoresPoller wires the sports upstream adapter.
func NewScoresPoller(cfg ScoresConfig, store domain.GameStore, snapshot *cache.Snapshot[domain.Game], results *cache.ResultCache, notify func(), clock clockwork.Clock) *ScoresPoller {
	return &ScoresPoller{
		cfg:      cfg,
		store:    store,
		snapshot: snapshot,
		results:  results,
		notify:   notify,
		clock:    clock,
		http:     &http.Client{Timeout: scoresTimeout},
		cron:     cron.New(),
		lastPoll: clock.Now(),
	}
}

// Run polls every league once, starts the per-league loops, and keeps the
// hourly refresh going until ctx is cancelled.
func (p *ScoresPoller) Run(ctx context.Context) {
	p.refresh(ctx)

	if _, err := p.cron.AddFunc("@hourly", func() { p.refresh(ctx) }); err != nil {
		slog.Error("Failed to schedule hourly scores refresh", "error", err)
	}
	p.cron.Start()
	defer p.cron.Stop()

	<-ctx.Done()
}

// refresh polls all leagues once and (re)starts any league loop that is not
// currently running.
func (p *ScoresPoller) refresh(ctx context.Context) {
	for _, league := range p.cfg.Leagues {
		if _, _, err := p.pollLeague(ctx, league); err != nil {
			slog.Warn("Scores refresh failed", "league", league, "error", err)
		}
		p.startLeagueLoop(ctx, league)
	}
}

func (p *ScoresPoller) startLeagueLoop(ctx context.Context, league string) {
	p.mu.Lock()
	if p.running == nil {
		p.running = make(map[string]bool)
	}
	if p.running[league] {
		p.mu.Unlock()
		return
	}
	p.running[league] = true
	p.mu.Unlock()

	go p.leagueLoop(ctx, league)
}

// leagueLoop tightens polling while games are live and exits once the
// league's slate is finished for the day.
func (p *ScoresPoller) leagueLoop(ctx context.Context, league string) {
	defer func() {
		p.mu.Lock()
		p.running[league] = false
		p.mu.Unlock()
	}()

	for {
		interval := idlePollInterval

		live, total, err := p.pollLeague(ctx, league)
		switch {
		case err != nil:
			slog.Warn("League poll failed", "league", league, "error", err)
		case total > 0 && live == 0 && p.allFinal(ctx, league):
			slog.Info("League finished for the day, pausing poll loop", "league", league)
			return
		case live > 0:
			interval = livePollInterval
		}

		select {
		case <-p.clock.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// pollLeague fetches one scoreboard, commits the batch, and requests a
// broadcast pass. Returns the number of live games and total games seen.
func (p *ScoresPoller) pollLeague(ctx context.Context, league string) (live, total int, err error) {
	games, err := p.fetchScoreboard(ctx, league)
	if err != nil {
		metrics.FeedMessagesTotal.WithLabelValues(sportsFeedName, "malformed").Inc()
		return 0, 0, err
	}
	metrics.FeedMessagesTotal.WithLabelValues(sportsFeedName, "ok").Inc()

	p.mu.Lock()
	p.lastPoll = p.clock.Now()
	p.mu.Unlock()

	if len(games) == 0 {
		return 0, 0, nil
	}
	metrics.FeedDrainBatchSize.WithLabelValues(sportsFeedName).Observe(float64(len(games)))

	storeCtx, cancel := context.WithTimeout(ctx, drainStoreBudget)
	defer cancel()

	committed := 0
	for _, g := range games {
		if g.State == domain.GameStateInProgress {
			live++
		}
		if err := p.store.Upsert(storeCtx, g); err != nil {
			slog.Error("Game upsert failed", "league", league, "game", g.ExternalID, "error", err)
			continue
		}
		committed++
	}

	if committed > 0 {
		p.snapshot.Invalidate(false)
		p.results.Clear()
		p.notify()
	}

	return live, len(games), nil
}

func (p *ScoresPoller) allFinal(ctx context.Context, league string) bool {
	games, err := p.store.GetByLeague(ctx, league)
	if err != nil || len(games) == 0 {
		return false
	}
	for _, g := range games {
		if !g.State.Terminal() {
			return false
		}
	}
	return true
}

func (p *ScoresPoller) fetchScoreboard(ctx context.Context, league string) ([]domain.Game, error) {
	path, ok := leaguePaths[strings.ToUpper(league)]
	if !ok {
		return nil, fmt.Errorf("unknown league %q", league)
	}

	reqURL := fmt.Sprintf("%s/%s/scoreboard", p.cfg.BaseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoreboard request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoreboard request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoreboard endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoreboard response: %w", err)
	}

	return parseScoreboard(strings.ToUpper(league), body, p.clock.Now())
}

// --- Upstream scoreboard wire format ---

type scoreboardResponse struct {
	Events []scoreboardEvent `json:"events"`
}

type scoreboardEvent struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Status struct {
		Type struct {
			State       string `json:"state"`
			ShortDetail string `json:"shortDetail"`
		} `json:"type"`
	} `json:"status"`
	Competitions []struct {
		Competitors []scoreboardCompetitor `json:"competitors"`
	} `json:"competitions"`
}

type scoreboardCompetitor struct {
	HomeAway string `json:"homeAway"`
	Score    string `json:"score"`
	Team     struct {
		DisplayName string `json:"displayName"`
		Logo        string `json:"logo"`
	} `json:"team"`
}

// parseScoreboard normalizes one scoreboard payload. Events missing their
// competitors block are skipped rather than failing the whole batch.
func parseScoreboard(league string, body []byte, now time.Time) ([]domain.Game, error) {
	var sb scoreboardResponse
	if err := json.Unmarshal(body, &sb); err != nil {
		return nil, fmt.Errorf("failed to decode scoreboard: %w", err)
	}

	games := make([]domain.Game, 0, len(sb.Events))
	for _, ev := range sb.Events {
		if ev.ID == "" || len(ev.Competitions) == 0 {
			slog.Debug("Skipping malformed scoreboard event", "league", league)
			continue
		}

		g := domain.Game{
			League:       league,
			ExternalID:   ev.ID,
			StatusDetail: ev.Status.Type.ShortDetail,
			State:        normalizeState(ev.Status.Type.State),
			LastUpdated:  now,
		}

		if ts, err := time.Parse(time.RFC3339, ev.Date); err == nil {
			g.StartTime = ts
		} else if ts, err := time.Parse("2006-01-02T15:04Z", ev.Date); err == nil {
			g.StartTime = ts
		}

		for _, c := range ev.Competitions[0].Competitors {
			switch c.HomeAway {
			case "home":
				g.HomeTeam = c.Team.DisplayName
				g.HomeScore = c.Score
				g.HomeLogo = c.Team.Logo
			case "away":
				g.AwayTeam = c.Team.DisplayName
				g.AwayScore = c.Score
				g.AwayLogo = c.Team.Logo
			}
		}
		if g.HomeTeam == "" || g.AwayTeam == "" {
			slog.Debug("Skipping scoreboard event without both teams", "league", league, "game", ev.ID)
			continue
		}

		games = append(games, g)
	}

	return games, nil
}

func normalizeState(state string) domain.GameState {
	switch state {
	case "pre":
		return domain.GameStateScheduled
	case "in":
		return domain.GameStateInProgress
	case "post":
		return domain.GameStateFinal
	default:
		return domain.GameStateScheduled
	}
}

// LastPoll reports when a scoreboard was last fetched successfully.
func (p *ScoresPoller) LastPoll() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPoll
}

// Healthy reports whether polling has succeeded recently.
func (p *ScoresPoller) Healthy(staleAfter time.Duration) bool {
	return p.clock.Since(p.LastPoll()) < staleAfter
}

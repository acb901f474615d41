package domain

import "time"

// GameState is the coarse lifecycle state of a game as reported upstream.
type GameState string

const (
	GameStateScheduled  GameState = "pre"
	GameStateInProgress GameState = "in"
	GameStateFinal      GameState = "post"
)

// Terminal reports whether the game has finished for the day.
func (s GameState) Terminal() bool {
	return s == GameStateFinal
}

// Game is the current snapshot of one scoreboard entry.
// (League, ExternalID) is the natural key.
type Game struct {
	League       string    `json:"league"`
	ExternalID   string    `json:"external_id"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	HomeScore    string    `json:"home_score"`
	AwayScore    string    `json:"away_score"`
	HomeLogo     string    `json:"home_logo,omitempty"`
	AwayLogo     string    `json:"away_logo,omitempty"`
	StartTime    time.Time `json:"start_time"`
	StatusDetail string    `json:"status_detail"`
	State        GameState `json:"state"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Key returns the composite natural key used for upsert coalescing.
func (g Game) Key() string {
	return g.League + "/" + g.ExternalID
}

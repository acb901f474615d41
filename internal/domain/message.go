package domain

import "time"

// Inbound client message types.
const (
	MsgConnection    = "connection"
	MsgFilterRequest = "filter_request"
	MsgGetAllTrades  = "get_all_trades"
	MsgGetAllGames   = "get_all_games"
	MsgPing          = "ping"
)

// Outbound server message types.
const (
	MsgWelcome             = "welcome"
	MsgConnectionConfirmed = "connection_confirmed"
	MsgInitialData         = "initial_data"
	MsgFilteredData        = "filtered_data"
	MsgFinancialUpdate     = "financial_update"
	MsgGamesUpdated        = "games_updated"
	MsgAllTradesData       = "all_trades_data"
	MsgPong                = "pong"
	MsgError               = "error"
)

// ClientMessage is the envelope for everything a client sends over the socket.
type ClientMessage struct {
	Type      string   `json:"type"`
	Filters   []string `json:"filters,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// ServerMessage is the envelope for everything pushed to a client. Data holds
// the record payload when present; Count and Filters accompany filtered
// results; Message carries human-readable text for welcome and error frames.
type ServerMessage struct {
	Type      string   `json:"type"`
	Data      any      `json:"data,omitempty"`
	Count     *int     `json:"count,omitempty"`
	Filters   []string `json:"filters,omitempty"`
	Message   string   `json:"message,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// NewServerMessage stamps an outbound envelope with the current time.
func NewServerMessage(msgType string, now time.Time) ServerMessage {
	return ServerMessage{Type: msgType, Timestamp: now.UnixMilli()}
}

package httpserver

import (
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/brandon-relentnet/scrollr-sub000/internal/broadcast"
)

// wsHandler upgrades the connection, registers it with the domain's
// broadcaster and pumps inbound messages until the client goes away. The
// read loop is the only reader of the connection, so pong handlers run here.
func wsHandler[T any](s *Server, b *broadcast.Broadcaster[T]) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return fmt.Errorf("failed to upgrade connection: %w", err)
		}

		id, err := b.Register(conn)
		if err != nil {
			// Register closes the connection on rejection.
			slog.Warn("Connection rejected", "remote", c.RealIP(), "error", err)
			return nil
		}
		defer b.Unregister(id)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				slog.Debug("Client read loop ended", "session_id", id.String(), "error", err)
				return nil
			}
			b.Inbound(id, data)
		}
	}
}

package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthCheckTimeout = 5 * time.Second

// handleHealth reports healthy, degraded or unhealthy. Clients poll this with
// backoff before opening their WebSocket connection: a failing critical check
// (the store) is unhealthy and returns 503, a failing feed check only
// degrades the service.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.healthChecks))

	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			checks[hc.Name] = "ok"
			continue
		}

		checks[hc.Name] = err.Error()
		if hc.Critical {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else if status == "healthy" {
			status = "degraded"
		}
	}

	response := map[string]any{
		"status": status,
		"uptime": time.Since(s.startTime).Seconds(),
		"checks": checks,
		"clients": map[string]int{
			"finance": s.finance.ClientCount(),
			"sports":  s.sports.ClientCount(),
		},
	}

	if err := c.JSON(httpStatus, response); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

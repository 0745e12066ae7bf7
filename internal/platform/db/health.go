package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// poolReport is the JSON body served on /health/db.
type poolReport struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Total    int32  `json:"total_conns"`
	Idle     int32  `json:"idle_conns"`
	Acquired int32  `json:"acquired_conns"`
	Max      int32  `json:"max_conns"`
}

// HealthHandler answers readiness probes for the knowledge base store:
// 200 with current pool gauges while the database responds to pings, 503
// once it stops.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stat := pool.Stat()
		report := poolReport{
			Status:   "ok",
			Total:    stat.TotalConns(),
			Idle:     stat.IdleConns(),
			Acquired: stat.AcquiredConns(),
			Max:      stat.MaxConns(),
		}

		if err := pool.Ping(ctx); err != nil {
			report.Status = "unavailable"
			report.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}

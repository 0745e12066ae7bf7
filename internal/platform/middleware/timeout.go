package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds every request with a context deadline. Ranking is
// CPU-bound and grows with the knowledge base, so handlers are expected to
// watch the request context; when the deadline fires first the client gets
// a 504 and whatever the handler eventually returns is discarded.
func RequestTimeout(limit time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), limit)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			result := make(chan error, 1)
			go func() { result <- next(c) }()

			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return timeoutResponse(c)
				}
				// Client disconnects surface as plain cancellation.
				return ctx.Err()
			}
		}
	}
}

// timeoutResponse reports the expired deadline to the client. A handler that
// already committed a partial body cannot be rewritten, so that response is
// left as is.
func timeoutResponse(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, map[string]string{
		"error": "request timed out",
	})
}

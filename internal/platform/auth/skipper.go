package auth

import (
	"github.com/labstack/echo/v4"
)

// IsPublicPath reports whether path belongs to the unauthenticated surface
// of the server. Liveness probes, Prometheus scrapes, and version checks
// happen before any operator has minted a token, so they must not require
// one.
func IsPublicPath(path string) bool {
	switch path {
	case "/health", "/health/db", "/metrics", "/version":
		return true
	}
	return false
}

// AuthSkipper adapts IsPublicPath to the Skipper signature on JWTConfig.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

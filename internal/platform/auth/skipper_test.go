package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/version", true},
		{"/", false},
		{"/healthz", false},
		{"/health/extra", false},
		{"/api/v1/diagnosis/rank", false},
		{"/api/v1/diagnosis/query", false},
		{"/api/v1/kb/diseases", false},
		{"/api/v1/kb/reload", false},
	}

	for _, tt := range tests {
		if got := IsPublicPath(tt.path); got != tt.want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestAuthSkipper_UsesRoutePath(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/metrics")

	if !AuthSkipper(c) {
		t.Error("expected AuthSkipper to skip /metrics")
	}

	c.SetPath("/api/v1/kb/diseases")
	if AuthSkipper(c) {
		t.Error("expected AuthSkipper to keep auth on /api/v1/kb/diseases")
	}
}

func TestJWTMiddleware_SkipperBypassesAuth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	var handlerCalled bool
	handler := func(c echo.Context) error {
		handlerCalled = true
		return c.String(http.StatusOK, "ok")
	}

	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	err := JWTMiddleware(cfg)(handler)(c)

	if err != nil {
		t.Fatalf("skipped path should not require a token, got: %v", err)
	}
	if !handlerCalled {
		t.Error("expected handler to run without an Authorization header")
	}
}

func TestJWTMiddleware_SkipperIgnoresProtectedPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/diagnosis/rank", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/diagnosis/rank")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	err := JWTMiddleware(cfg)(handler)(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_NilSkipperProtectsEverything(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	cfg := JWTConfig{SigningKey: testSigningKey}
	if err := JWTMiddleware(cfg)(handler)(c); err == nil {
		t.Fatal("expected error when no skipper is configured")
	}
}

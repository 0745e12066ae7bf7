package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestRequestID_GeneratesUUID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/kb/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromCtx string
	err := RequestID()(func(c echo.Context) error {
		fromCtx, _ = c.Get("request_id").(string)
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header := rec.Header().Get(RequestIDHeader)
	if header == "" {
		t.Fatal("expected a generated X-Request-ID header")
	}
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", header, err)
	}
	if fromCtx != header {
		t.Errorf("context id %q and header id %q should agree", fromCtx, header)
	}
}

func TestRequestID_HonorsInboundID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/kb/stats", nil)
	req.Header.Set(RequestIDHeader, "upstream-trace-42")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromCtx string
	err := RequestID()(func(c echo.Context) error {
		fromCtx, _ = c.Get("request_id").(string)
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fromCtx != "upstream-trace-42" {
		t.Errorf("context id = %q, want the inbound id", fromCtx)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "upstream-trace-42" {
		t.Errorf("response header = %q, want the inbound id", got)
	}
}

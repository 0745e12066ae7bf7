package middleware

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// CacheConfig controls the ETag middleware. The knowledge base changes only
// on reload, so vocabulary reads revalidate cheaply: a client replays the
// ETag it saw last and usually gets a bodyless 304 back.
type CacheConfig struct {
	MaxAge     int      // Cache-Control max-age in seconds
	Private    bool     // private instead of public
	Vary       []string // response Vary headers
	Revalidate bool     // answer If-None-Match with 304
	Skip       []string // exact paths left uncached
}

// DefaultCacheConfig suits the read-only vocabulary routes: public, five
// minute max-age, revalidation on.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxAge:     300,
		Vary:       []string{"Accept"},
		Revalidate: true,
	}
}

func (cfg CacheConfig) skips(path string) bool {
	return slices.Contains(cfg.Skip, path)
}

func (cfg CacheConfig) cacheControl() string {
	scope := "public"
	if cfg.Private {
		scope = "private"
	}
	return fmt.Sprintf("%s, max-age=%d", scope, cfg.MaxAge)
}

// ETagMiddleware stamps Cache-Control, Vary, and a weak ETag onto GET and
// HEAD responses, and answers a matching If-None-Match with 304 Not
// Modified instead of the body. Error responses pass through untouched.
func ETagMiddleware(cfg CacheConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}
			if cfg.skips(req.URL.Path) {
				return next(c)
			}

			// Divert the handler's output into a buffer; nothing reaches
			// the client until the tag comparison below has decided
			// between 304 and a full replay.
			res := c.Response()
			client := res.Writer
			capture := &captureWriter{ResponseWriter: client, status: http.StatusOK}
			res.Writer = capture

			err := next(c)
			res.Writer = client
			if err != nil {
				return err
			}

			if capture.status >= 400 {
				return capture.replay(client)
			}

			h := res.Header()
			h.Set("Cache-Control", cfg.cacheControl())
			if len(cfg.Vary) > 0 {
				h.Set("Vary", strings.Join(cfg.Vary, ", "))
			}

			tag := weakETag(capture.body.Bytes())
			h.Set("ETag", tag)

			if cfg.Revalidate && tagMatches(req.Header.Get("If-None-Match"), tag) {
				client.WriteHeader(http.StatusNotModified)
				return nil
			}
			return capture.replay(client)
		}
	}
}

// captureWriter buffers the handler's body and status. Header writes pass
// straight through to the embedded writer so headers set by the handler
// survive the replay.
type captureWriter struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *captureWriter) Write(p []byte) (int, error) {
	return w.body.Write(p)
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
}

func (w *captureWriter) Flush() {}

func (w *captureWriter) replay(dst http.ResponseWriter) error {
	dst.WriteHeader(w.status)
	if w.body.Len() == 0 {
		return nil
	}
	_, err := dst.Write(w.body.Bytes())
	return err
}

// weakETag derives a weak validator from an FNV-64 hash of the body.
func weakETag(body []byte) string {
	h := fnv.New64a()
	h.Write(body)
	return fmt.Sprintf(`W/"%016x"`, h.Sum64())
}

// tagMatches implements weak comparison for If-None-Match: the wildcard
// matches anything, and W/ prefixes are ignored on both sides.
func tagMatches(header, tag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := strings.TrimPrefix(tag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}

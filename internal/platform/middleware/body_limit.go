package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

var errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// BodyLimit caps the request body size. Rank and query payloads are a few
// hundred bytes of JSON and knowledge-base imports go through the CLI
// rather than HTTP, so a single limit covers every route. Sizes read as
// "512K", "1M", "2G", or a bare byte count; anything unparseable falls
// back to 1M.
func BodyLimit(limit string) echo.MiddlewareFunc {
	capBytes := parseSize(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			// Content-Length gives an early out, but clients can lie or
			// omit it; the capped reader is what actually enforces the
			// limit.
			if req.ContentLength > capBytes {
				return bodyTooLarge(c, capBytes)
			}
			req.Body = &cappedBody{src: req.Body, left: capBytes}
			return next(c)
		}
	}
}

// cappedBody hands out at most left bytes and fails the read that would go
// past them. Reads are allowed one byte beyond the cap so a body of exactly
// the permitted size still succeeds.
type cappedBody struct {
	src  io.ReadCloser
	left int64
	done bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.src.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		b.done = true
		return 0, errBodyTooLarge
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.src.Close() }

func bodyTooLarge(c echo.Context, capBytes int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error": fmt.Sprintf("request body exceeds %d byte limit", capBytes),
	})
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"G", 1 << 30},
	{"MB", 1 << 20},
	{"M", 1 << 20},
	{"KB", 1 << 10},
	{"K", 1 << 10},
}

// parseSize converts "512K" style strings to a byte count, defaulting to
// 1M when the input does not parse.
func parseSize(s string) int64 {
	const fallback = 1 << 20

	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}

	mult := int64(1)
	for _, ss := range sizeSuffixes {
		if rest, ok := strings.CutSuffix(s, ss.suffix); ok {
			s, mult = rest, ss.mult
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n * mult
}

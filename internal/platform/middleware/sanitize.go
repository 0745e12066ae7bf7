package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// headerValueCap bounds any single header value.
const headerValueCap = 8192

var (
	// Logged, never blocked: clinical labels legitimately contain
	// apostrophes ("alzheimer's disease"), so only unmistakable SQL
	// shapes are worth a warning.
	sqlInjectionRx = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Blocked outright.
	scriptInjectionRx = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize is SanitizeWithLogger with the warnings discarded.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger returns middleware that screens the request line,
// headers, and query string for injection attempts before any handler
// runs. Offending requests get a 400; suspicious but plausible ones are
// only logged.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if reason := screenTarget(req.URL.Path, req.URL.RawPath); reason != "" {
				return rejectRequest(c, reason)
			}
			if reason := screenHeaders(req.Header); reason != "" {
				return rejectRequest(c, reason)
			}
			if reason := screenQuery(c, logger); reason != "" {
				return rejectRequest(c, reason)
			}

			return next(c)
		}
	}
}

// screenTarget inspects both the decoded and raw request path so encoded
// traversal sequences cannot slip through the decoder.
func screenTarget(path, rawPath string) string {
	if rawPath == "" {
		rawPath = path
	}
	for _, s := range [...]string{path, rawPath} {
		if hasTraversal(s) {
			return "path traversal detected"
		}
		if hasNullByte(s) {
			return "null byte injection detected"
		}
	}
	return ""
}

func screenHeaders(h http.Header) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > headerValueCap {
				return "header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}
	return ""
}

func screenQuery(c echo.Context, logger zerolog.Logger) string {
	for key, values := range c.Request().URL.Query() {
		if hasNullByte(key) {
			return "null byte injection detected in query parameter"
		}
		if scriptInjectionRx.MatchString(key) {
			return "script injection detected in query parameter"
		}
		for _, v := range values {
			if hasNullByte(v) {
				return "null byte injection detected in query parameter"
			}
			if scriptInjectionRx.MatchString(v) {
				return "script injection detected in query parameter"
			}
			if sqlInjectionRx.MatchString(v) {
				logger.Warn().
					Str("param", key).
					Str("path", c.Request().URL.Path).
					Str("remote_ip", c.RealIP()).
					Msg("potential SQL injection pattern detected in query parameter")
			}
		}
	}
	return ""
}

// hasTraversal matches "..", its percent-encoded form, and the
// double-encoded form.
func hasTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

// rejectRequest returns a 400 Bad Request with the rejection reason.
func rejectRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": reason})
}

// SanitizeString strips null bytes and control characters (keeping \n, \r
// and \t) and trims surrounding whitespace. The free-text query path runs
// user input through this before the extraction gazetteer sees it.
func SanitizeString(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\x00':
			return -1
		case unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t':
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(cleaned)
}

// Package telemetry records metrics and traces for the ranking service
// without an external telemetry SDK. Counters, gauges, histograms, and a
// bounded span ring live in process memory; metric and attribute names
// follow the OpenTelemetry semantic conventions, and PrometheusHandler
// serves the text exposition of everything recorded.
package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Internal metric names, dotted per the OpenTelemetry conventions. The
// Prometheus writer maps them to underscore exposition names.
const (
	metricRequestSize    = "http.server.request.size"
	metricResponseSize   = "http.server.response.size"
	metricActiveRequests = "http.server.active_requests"
	metricRankDuration   = "diagnosis.rank.duration"
	metricOperationCount = "diagnosis.operation.count"
	metricKBReloadCount  = "kb.reload.count"
	metricDBPoolActive   = "db.pool.active_connections"
	metricDBPoolIdle     = "db.pool.idle_connections"
	metricKBDiseases     = "kb.diseases.total"
	metricKBFindings     = "kb.findings.total"
)

var (
	// httpDurationBuckets follow the OpenTelemetry HTTP server latency
	// defaults, in seconds.
	httpDurationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// rankDurationBuckets start at half a millisecond. Ranking is an
	// in-memory pass over the compiled knowledge base and routinely
	// finishes in under a millisecond even on large vocabularies.
	rankDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	// payloadSizeBuckets cover bodies from a minimal finding list up to a
	// full vocabulary dump, in bytes.
	payloadSizeBuckets = []float64{100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000}
)

// TelemetryConfig selects the signals a provider records and the resource
// identity stamped on them. A nil toggle means enabled.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	MetricsEnabled *bool
	TracingEnabled *bool
}

// BoolPtr is a convenience for the optional toggles on TelemetryConfig.
func BoolPtr(v bool) *bool { return &v }

// SpanStatus mirrors the OpenTelemetry span status codes.
type SpanStatus string

const (
	StatusOK    SpanStatus = "OK"
	StatusError SpanStatus = "ERROR"
)

// Span is a completed trace span. IDs use the W3C trace-context sizes.
// Spans stay in process memory for inspection; nothing is exported.
type Span struct {
	TraceID string
	SpanID  string
	Name    string
	Start   time.Time
	End     time.Time
	Status  SpanStatus
	Attrs   map[string]string
}

// Duration reports the span's wall-clock length.
func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// spanRingCap bounds trace memory on a long-running server.
const spanRingCap = 512

// spanRing keeps the most recent spans in a fixed circular buffer.
type spanRing struct {
	mu  sync.Mutex
	buf [spanRingCap]Span
	n   int
}

func (r *spanRing) put(s Span) {
	r.mu.Lock()
	r.buf[r.n%spanRingCap] = s
	r.n++
	r.mu.Unlock()
}

// list returns the retained spans oldest first.
func (r *spanRing) list() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n <= spanRingCap {
		return append([]Span(nil), r.buf[:r.n]...)
	}
	start := r.n % spanRingCap
	out := make([]Span, 0, spanRingCap)
	out = append(out, r.buf[start:]...)
	out = append(out, r.buf[:start]...)
	return out
}

// metricTable is a mutex-guarded map of int64 metric values. Counters use
// add, gauges use set; the Prometheus writer takes snapshots.
type metricTable struct {
	mu   sync.Mutex
	vals map[string]int64
}

func newMetricTable() *metricTable {
	return &metricTable{vals: make(map[string]int64)}
}

func (t *metricTable) add(key string, delta int64) {
	t.mu.Lock()
	t.vals[key] += delta
	t.mu.Unlock()
}

func (t *metricTable) set(key string, v int64) {
	t.mu.Lock()
	t.vals[key] = v
	t.mu.Unlock()
}

func (t *metricTable) get(key string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vals[key]
}

func (t *metricTable) snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.vals))
	for k, v := range t.vals {
		out[k] = v
	}
	return out
}

// histogram accumulates observations into fixed upper-bound buckets.
// Bounds are sorted ascending; observations above the last bound count
// only toward the implicit +Inf bucket.
type histogram struct {
	bounds []float64

	mu     sync.Mutex
	counts []uint64
	count  uint64
	sum    float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]uint64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	h.count++
	h.sum += v
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
	h.mu.Unlock()
}

// snapshot returns the observation count, the running sum, and cumulative
// per-bound counts in exposition order.
func (h *histogram) snapshot() (count uint64, sum float64, cumulative []uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cumulative = make([]uint64, len(h.counts))
	var running uint64
	for i, c := range h.counts {
		running += c
		cumulative[i] = running
	}
	return h.count, h.sum, cumulative
}

// TelemetryProvider is the process-wide sink for metrics and spans. The
// zero value is not usable; construct with NewTelemetryProvider.
type TelemetryProvider struct {
	cfg            TelemetryConfig
	metricsEnabled bool
	tracingEnabled bool

	counters *metricTable
	gauges   *metricTable

	histMu     sync.Mutex
	hists      map[string]*histogram
	routeHists map[string]*histogram

	spans spanRing

	done      chan struct{}
	closeOnce sync.Once
}

// NewTelemetryProvider builds a provider with the given identity. Empty
// identity fields fall back to the server defaults.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ddx-server"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.0.0"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	return &TelemetryProvider{
		cfg:            cfg,
		metricsEnabled: cfg.MetricsEnabled == nil || *cfg.MetricsEnabled,
		tracingEnabled: cfg.TracingEnabled == nil || *cfg.TracingEnabled,
		counters:       newMetricTable(),
		gauges:         newMetricTable(),
		hists:          make(map[string]*histogram),
		routeHists:     make(map[string]*histogram),
		done:           make(chan struct{}),
	}
}

// Shutdown stops signal collection. There is no exporter to drain, so it
// never blocks; already-recorded values remain readable. Safe to call
// more than once.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	tp.closeOnce.Do(func() { close(tp.done) })
	return ctx.Err()
}

func (tp *TelemetryProvider) closed() bool {
	select {
	case <-tp.done:
		return true
	default:
		return false
	}
}

// Resource reports the identity attributes stamped on every signal,
// mirroring the OpenTelemetry resource convention.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// hist returns the named histogram, creating it with the given bounds on
// first use.
func (tp *TelemetryProvider) hist(name string, bounds []float64) *histogram {
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	h, ok := tp.hists[name]
	if !ok {
		h = newHistogram(bounds)
		tp.hists[name] = h
	}
	return h
}

// routeHist returns the request duration histogram for one
// method|route|status combination.
func (tp *TelemetryProvider) routeHist(key string) *histogram {
	tp.histMu.Lock()
	defer tp.histMu.Unlock()
	h, ok := tp.routeHists[key]
	if !ok {
		h = newHistogram(httpDurationBuckets)
		tp.routeHists[key] = h
	}
	return h
}

func labelKey(name, a, b string) string {
	return name + "|" + a + "|" + b
}

func routeKey(method, route string, status int) string {
	return method + "|" + route + "|" + strconv.Itoa(status)
}

// ObserveRankDuration records one differential ranking pass.
func (tp *TelemetryProvider) ObserveRankDuration(d time.Duration) {
	tp.hist(metricRankDuration, rankDurationBuckets).observe(d.Seconds())
}

// DiagnosisOperationCounter counts one diagnosis API operation by outcome.
func (tp *TelemetryProvider) DiagnosisOperationCounter(operation, outcome string) {
	tp.counters.add(labelKey(metricOperationCount, operation, outcome), 1)
}

// KBReloadCounter counts one knowledge base reload by source and outcome.
func (tp *TelemetryProvider) KBReloadCounter(source, outcome string) {
	tp.counters.add(labelKey(metricKBReloadCount, source, outcome), 1)
}

// GetCounter reads a two-label counter. Unknown combinations read zero.
func (tp *TelemetryProvider) GetCounter(name, labelA, labelB string) int64 {
	return tp.counters.get(labelKey(name, labelA, labelB))
}

// GetGauge reads a gauge. Unknown names read zero.
func (tp *TelemetryProvider) GetGauge(name string) int64 {
	return tp.gauges.get(name)
}

// GetRecordedSpans returns the retained spans oldest first.
func (tp *TelemetryProvider) GetRecordedSpans() []Span {
	return tp.spans.list()
}

// HealthMetricsRecorder publishes the gauges surfaced by readiness
// sampling: connection pool occupancy and knowledge base size.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

// HealthMetrics returns the gauge recorder backed by this provider.
func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

// SetDBPoolActive records connections currently acquired from the pool.
func (r *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	r.tp.gauges.set(metricDBPoolActive, n)
}

// SetDBPoolIdle records idle connections held by the pool.
func (r *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	r.tp.gauges.set(metricDBPoolIdle, n)
}

// SetKBDiseases records the disease count of the active snapshot.
func (r *HealthMetricsRecorder) SetKBDiseases(n int64) {
	r.tp.gauges.set(metricKBDiseases, n)
}

// SetKBFindings records the distinct finding count of the active snapshot.
func (r *HealthMetricsRecorder) SetKBFindings(n int64) {
	r.tp.gauges.set(metricKBFindings, n)
}

// MetricsMiddleware instruments every request with duration and size
// histograms plus the in-flight gauge. Durations are keyed by the
// registered route pattern so path parameters do not explode label
// cardinality.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !tp.metricsEnabled {
			return next
		}
		return func(c echo.Context) error {
			if tp.closed() {
				return next(c)
			}
			start := time.Now()
			tp.gauges.add(metricActiveRequests, 1)
			defer tp.gauges.add(metricActiveRequests, -1)

			err := next(c)

			elapsed := time.Since(start).Seconds()
			status := responseStatus(c, err)
			tp.routeHist(routeKey(c.Request().Method, routePattern(c), status)).observe(elapsed)
			if size := c.Request().ContentLength; size > 0 {
				tp.hist(metricRequestSize, payloadSizeBuckets).observe(float64(size))
			}
			if size := c.Response().Size; size > 0 {
				tp.hist(metricResponseSize, payloadSizeBuckets).observe(float64(size))
			}
			return err
		}
	}
}

// TracingMiddleware records one span per request into the span ring, with
// HTTP attributes named per the OpenTelemetry semantic conventions.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !tp.tracingEnabled {
			return next
		}
		return func(c echo.Context) error {
			if tp.closed() {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			end := time.Now()

			req := c.Request()
			route := routePattern(c)
			status := responseStatus(c, err)

			attrs := map[string]string{
				"http.method":      req.Method,
				"http.route":       route,
				"http.status_code": strconv.Itoa(status),
				"http.url":         req.URL.String(),
			}
			if group := apiGroup(route); group != "" {
				attrs["ddx.api_group"] = group
			}
			if subject, ok := c.Get("auth_subject").(string); ok && subject != "" {
				attrs["enduser.id"] = subject
			}

			code := StatusOK
			if status >= http.StatusInternalServerError {
				code = StatusError
			}
			tp.spans.put(Span{
				TraceID: randomHex(16),
				SpanID:  randomHex(8),
				Name:    "HTTP " + req.Method + " " + route,
				Start:   start,
				End:     end,
				Status:  code,
				Attrs:   attrs,
			})
			return err
		}
	}
}

// responseStatus resolves the status a request will ultimately produce.
// When a handler returns an error the response is not yet written; the
// error carries the status instead.
func responseStatus(c echo.Context, err error) int {
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
		return http.StatusInternalServerError
	}
	return c.Response().Status
}

// routePattern prefers the registered route template over the raw URL so
// metric labels stay low-cardinality under path parameters.
func routePattern(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}

// apiGroup extracts the first path segment under the versioned API
// prefix, e.g. "diagnosis" from /api/v1/diagnosis/rank. Routes outside
// the prefix report "".
func apiGroup(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/v1/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

// prometheusContentType is the text exposition format version understood
// by every Prometheus scraper.
const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

// PrometheusHandler serves every recorded metric in the Prometheus text
// exposition format. Gauges always appear; histograms and counters appear
// once they have observations.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		tp.writeRouteDurations(&b)
		tp.writeGaugeMetric(&b, "http_server_active_requests", "HTTP requests currently in flight.", metricActiveRequests)
		tp.writeHistogramMetric(&b, "http_server_request_size_bytes", "HTTP request body sizes in bytes.", metricRequestSize, payloadSizeBuckets)
		tp.writeHistogramMetric(&b, "http_server_response_size_bytes", "HTTP response body sizes in bytes.", metricResponseSize, payloadSizeBuckets)
		tp.writeHistogramMetric(&b, "diagnosis_rank_duration_seconds", "Latency of differential ranking passes in seconds.", metricRankDuration, rankDurationBuckets)
		tp.writeLabeledCounter(&b, "diagnosis_operation_count", "Diagnosis API operations by outcome.", metricOperationCount, "operation", "outcome")
		tp.writeLabeledCounter(&b, "kb_reload_count", "Knowledge base reloads by source and outcome.", metricKBReloadCount, "source", "outcome")
		tp.writeGaugeMetric(&b, "db_pool_active_connections", "Connections currently acquired from the pgx pool.", metricDBPoolActive)
		tp.writeGaugeMetric(&b, "db_pool_idle_connections", "Idle connections held by the pgx pool.", metricDBPoolIdle)
		tp.writeGaugeMetric(&b, "kb_diseases_total", "Diseases in the active knowledge base snapshot.", metricKBDiseases)
		tp.writeGaugeMetric(&b, "kb_findings_total", "Distinct findings in the active knowledge base snapshot.", metricKBFindings)
		return c.Blob(http.StatusOK, prometheusContentType, []byte(b.String()))
	}
}

// writeRouteDurations emits the per-route request duration histograms,
// sorted by method|route|status key for a stable scrape.
func (tp *TelemetryProvider) writeRouteDurations(b *strings.Builder) {
	tp.histMu.Lock()
	keys := make([]string, 0, len(tp.routeHists))
	for k := range tp.routeHists {
		keys = append(keys, k)
	}
	tp.histMu.Unlock()
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s HTTP request latency by route.\n# TYPE %s histogram\n", name, name)
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 3)
		if len(parts) != 3 {
			continue
		}
		count, sum, cumulative := tp.routeHist(k).snapshot()
		labels := fmt.Sprintf("method=%q,route=%q,status=%q", parts[0], parts[1], parts[2])
		for i, bound := range httpDurationBuckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=%q} %d\n", name, labels, formatBound(bound), cumulative[i])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatBound(sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, count)
	}
}

// writeHistogramMetric emits one unlabeled histogram if it has
// observations.
func (tp *TelemetryProvider) writeHistogramMetric(b *strings.Builder, name, help, metric string, bounds []float64) {
	count, sum, cumulative := tp.hist(metric, bounds).snapshot()
	if count == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", name, help, name)
	for i, bound := range bounds {
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, formatBound(bound), cumulative[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, count)
	fmt.Fprintf(b, "%s_sum %s\n", name, formatBound(sum))
	fmt.Fprintf(b, "%s_count %d\n", name, count)
}

// writeLabeledCounter emits every series of one two-label counter, sorted
// by key for a stable scrape.
func (tp *TelemetryProvider) writeLabeledCounter(b *strings.Builder, name, help, metric, labelA, labelB string) {
	vals := tp.counters.snapshot()
	prefix := metric + "|"
	keys := make([]string, 0, len(vals))
	for k := range vals {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 3)
		if len(parts) != 3 {
			continue
		}
		fmt.Fprintf(b, "%s{%s=%q,%s=%q} %d\n", name, labelA, parts[1], labelB, parts[2], vals[k])
	}
}

// writeGaugeMetric emits one gauge. Gauges default to zero so health
// metrics are visible before the first sample.
func (tp *TelemetryProvider) writeGaugeMetric(b *strings.Builder, name, help, metric string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, tp.gauges.get(metric))
}

// formatBound renders a float without trailing zeros, matching the
// Prometheus convention for le labels.
func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// randomHex returns n random bytes hex-encoded, the W3C trace-context ID
// shape. On entropy failure it falls back to the all-zero ID.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}

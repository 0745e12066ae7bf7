package diagnosis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
)

// ErrNoText signals a free-text query with an empty text field.
var ErrNoText = errors.New("text is required")

// Extractor turns free text into candidate findings. Implemented by the
// extraction package's gazetteer.
type Extractor interface {
	Extract(text string) []terminology.Concept
}

// Metrics receives engine timings and operation outcomes. Implemented by the
// telemetry provider; a nil Metrics disables recording.
type Metrics interface {
	ObserveRankDuration(d time.Duration)
	DiagnosisOperationCounter(operation, outcome string)
}

// RankRequest is the structured ranking payload: findings the caller has
// already resolved to concepts.
type RankRequest struct {
	Findings []terminology.Concept `json:"findings"`
	Options  Options               `json:"options"`
}

// QueryRequest is the free-text ranking payload.
type QueryRequest struct {
	Text    string  `json:"text"`
	Options Options `json:"options"`
}

// QueryResponse pairs the findings extracted from the text with the
// differential they produced.
type QueryResponse struct {
	Text         string                `json:"text"`
	Extracted    []terminology.Concept `json:"extracted"`
	Differential *Differential         `json:"differential"`
}

// ==================== Diagnosis Service ====================

// Service runs rankings against the currently published knowledge base.
type Service struct {
	holder  *knowledge.Holder
	engine  *Engine
	extract Extractor
	metrics Metrics
	logger  zerolog.Logger
}

// NewService creates a diagnosis service. extract may be nil when free-text
// queries are not wired up.
func NewService(holder *knowledge.Holder, engine *Engine, extract Extractor, logger zerolog.Logger) *Service {
	return &Service{holder: holder, engine: engine, extract: extract, logger: logger}
}

// WithMetrics attaches a telemetry sink for rank timings and outcome
// counters.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// Rank builds an observation from the request findings and ranks the whole
// knowledge base against it. An empty observation is a normal query and
// yields an empty differential.
func (s *Service) Rank(ctx context.Context, req *RankRequest) (*Differential, error) {
	base, err := s.holder.Current()
	if err != nil {
		s.countOp("rank", "unavailable")
		return nil, err
	}

	obs := NewObservation(req.Findings)
	start := time.Now()
	diff, err := s.engine.Rank(ctx, base, obs, req.Options)
	took := time.Since(start)
	if err != nil {
		s.countOp("rank", "error")
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveRankDuration(took)
	}
	s.countOp("rank", "ok")

	s.logger.Info().
		Str("query_id", diff.QueryID.String()).
		Int("observed", len(diff.Observation)).
		Int("evaluated", diff.Evaluated).
		Int("ranked", len(diff.Ranked)).
		Int("unexplained", len(diff.Unexplained)).
		Dur("duration", took).
		Msg("differential ranked")
	return diff, nil
}

// Query extracts findings from free text and ranks them. The inner Rank call
// counts its own operation, so a query shows up under both counters.
func (s *Service) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		s.countOp("query", "error")
		return nil, ErrNoText
	}
	if s.extract == nil {
		s.countOp("query", "error")
		return nil, errors.New("free-text extraction is not configured")
	}

	found := s.extract.Extract(req.Text)
	diff, err := s.Rank(ctx, &RankRequest{Findings: found, Options: req.Options})
	if err != nil {
		s.countOp("query", "error")
		return nil, err
	}
	if found == nil {
		found = []terminology.Concept{}
	}
	s.countOp("query", "ok")
	return &QueryResponse{Text: req.Text, Extracted: found, Differential: diff}, nil
}

// countOp increments the operation counter when a sink is attached.
func (s *Service) countOp(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.DiagnosisOperationCounter(operation, outcome)
	}
}

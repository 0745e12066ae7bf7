package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ddx/ddx/internal/domain/terminology"
)

var (
	// ErrUnknownDisease reports a disease code or label absent from the
	// current knowledge base.
	ErrUnknownDisease = errors.New("unknown disease")
	// ErrUnknownFinding reports a finding code or label absent from the
	// current knowledge base vocabulary.
	ErrUnknownFinding = errors.New("unknown finding")
)

// DiseaseSummary is one row of the disease listing endpoints.
type DiseaseSummary struct {
	Disease      terminology.Concept `json:"disease"`
	FindingCount int                 `json:"finding_count"`
}

// DiseaseDetail is a single disease profile with its full expected-findings
// list.
type DiseaseDetail struct {
	Disease          terminology.Concept   `json:"disease"`
	ExpectedFindings []terminology.Concept `json:"expected_findings"`
}

// FindingDiseases lists the diseases whose profiles contain one finding.
type FindingDiseases struct {
	Finding  terminology.Concept `json:"finding"`
	Diseases []DiseaseSummary    `json:"diseases"`
}

// ReloadFunc rebuilds a model from the configured source. The serve command
// wires one per knowledge-base source (demo, file, PostgreSQL or SQLite).
type ReloadFunc func(ctx context.Context) (*Base, error)

// Service answers vocabulary queries against the current snapshot and
// coordinates explicit reloads.
type Service struct {
	holder *Holder
	reload ReloadFunc
}

// NewService creates a knowledge service over holder. reload may be nil when
// the deployment has no reloadable source.
func NewService(holder *Holder, reload ReloadFunc) *Service {
	return &Service{holder: holder, reload: reload}
}

// ListDiseases returns disease summaries filtered by an optional query that
// is matched against codes and labels, with the matched total for paging.
func (s *Service) ListDiseases(ctx context.Context, query string, limit, offset int) ([]DiseaseSummary, int, error) {
	base, err := s.holder.Current()
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	norm := terminology.NormalizeLabel(query)
	all := make([]DiseaseSummary, 0, base.Len())
	for _, p := range base.Profiles() {
		if norm != "" && !conceptMatches(p.Disease, norm) {
			continue
		}
		all = append(all, DiseaseSummary{Disease: p.Disease, FindingCount: p.ExpectedFindings.Len()})
	}

	return page(all, limit, offset), len(all), nil
}

// GetDisease resolves one profile by disease code, or by label for code-less
// knowledge bases.
func (s *Service) GetDisease(ctx context.Context, key string) (*DiseaseDetail, error) {
	if key == "" {
		return nil, fmt.Errorf("disease code or label is required")
	}
	base, err := s.holder.Current()
	if err != nil {
		return nil, err
	}

	for _, p := range base.Profiles() {
		if conceptIs(p.Disease, key) {
			return &DiseaseDetail{
				Disease:          p.Disease,
				ExpectedFindings: p.ExpectedFindings.Slice(),
			}, nil
		}
	}
	return nil, ErrUnknownDisease
}

// SearchFindings returns vocabulary findings filtered by an optional query,
// with the matched total for paging.
func (s *Service) SearchFindings(ctx context.Context, query string, limit, offset int) ([]terminology.Concept, int, error) {
	base, err := s.holder.Current()
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	norm := terminology.NormalizeLabel(query)
	var all []terminology.Concept
	for _, f := range base.Findings() {
		if norm != "" && !conceptMatches(f, norm) {
			continue
		}
		all = append(all, f)
	}

	return page(all, limit, offset), len(all), nil
}

// DiseasesForFinding resolves a finding by code or label and returns the
// diseases listing it, via the model's inverted index.
func (s *Service) DiseasesForFinding(ctx context.Context, key string) (*FindingDiseases, error) {
	if key == "" {
		return nil, fmt.Errorf("finding code or label is required")
	}
	base, err := s.holder.Current()
	if err != nil {
		return nil, err
	}

	var finding terminology.Concept
	found := false
	for _, f := range base.Findings() {
		if conceptIs(f, key) {
			finding, found = f, true
			break
		}
	}
	if !found {
		return nil, ErrUnknownFinding
	}

	profiles := base.DiseasesFor(finding)
	out := &FindingDiseases{Finding: finding, Diseases: make([]DiseaseSummary, 0, len(profiles))}
	for _, p := range profiles {
		out.Diseases = append(out.Diseases, DiseaseSummary{
			Disease:      p.Disease,
			FindingCount: p.ExpectedFindings.Len(),
		})
	}
	return out, nil
}

// Stats returns summary counts for the current snapshot.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	base, err := s.holder.Current()
	if err != nil {
		return nil, err
	}
	stats := base.Stats()
	return &stats, nil
}

// Reload rebuilds the model from the configured source and publishes it.
func (s *Service) Reload(ctx context.Context) (*Stats, error) {
	if s.reload == nil {
		return nil, fmt.Errorf("reload is not configured for this knowledge base source")
	}
	base, err := s.reload(ctx)
	if err != nil {
		return nil, err
	}

	s.holder.Swap(base)
	stats := base.Stats()
	return &stats, nil
}

// conceptMatches reports whether a normalized query is a substring of the
// concept's code or label.
func conceptMatches(c terminology.Concept, norm string) bool {
	return strings.Contains(strings.ToLower(c.Code), norm) ||
		strings.Contains(terminology.NormalizeLabel(c.Label), norm)
}

// conceptIs reports whether key identifies the concept exactly, by code or
// by normalized label.
func conceptIs(c terminology.Concept, key string) bool {
	if c.Code != "" && strings.EqualFold(c.Code, key) {
		return true
	}
	return terminology.NormalizeLabel(c.Label) == terminology.NormalizeLabel(key)
}

// page applies limit and offset to a listing slice.
func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

package diagnosis

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ddx/ddx/internal/domain/terminology"
)

// Observation is one query's deduplicated, insertion-ordered set of observed
// findings. It is immutable during ranking.
type Observation struct {
	findings *terminology.Set
}

// NewObservation normalizes raw findings into an Observation, dropping
// blank concepts and duplicates under the concept equality rule.
func NewObservation(findings []terminology.Concept) Observation {
	set := terminology.NewSet()
	for _, f := range findings {
		if f.Code == "" && f.Label == "" {
			continue
		}
		set.Add(f)
	}
	return Observation{findings: set}
}

// Len returns the number of distinct observed findings.
func (o Observation) Len() int { return o.findings.Len() }

// Findings returns the observed findings in insertion order.
func (o Observation) Findings() []terminology.Concept { return o.findings.Slice() }

// Contains reports whether the observation includes a finding equal to c.
func (o Observation) Contains(c terminology.Concept) bool { return o.findings.Contains(c) }

// Candidate is one scored disease: the matched/unmatched partition of its
// expected findings against the observation. Ordering decisions use the
// MatchCount and ProfileSize integers, never the float Score, so display
// rounding can never disagree with the ranking.
type Candidate struct {
	Disease     terminology.Concept   `json:"disease"`
	Matched     []terminology.Concept `json:"matched"`
	Unmatched   []terminology.Concept `json:"unmatched"`
	MatchCount  int                   `json:"match_count"`
	ProfileSize int                   `json:"profile_size"`
	Score       float64               `json:"score"`
	Percent     string                `json:"percent"`
	Rank        int                   `json:"rank"`
}

// Differential is the ranked output for one observation. It is fully
// self-describing: every concept carries its code and label, so callers
// never re-resolve identifiers.
type Differential struct {
	QueryID     uuid.UUID             `json:"query_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Observation []terminology.Concept `json:"observation"`
	Ranked      []Candidate           `json:"ranked"`
	Unexplained []terminology.Concept `json:"unexplained"`
	Degenerate  []terminology.Concept `json:"degenerate,omitempty"`
	Evaluated   int                   `json:"evaluated"`
}

// ExplainsAll returns the candidates whose matched findings cover the whole
// observation.
func (d *Differential) ExplainsAll() []Candidate {
	var out []Candidate
	for _, c := range d.Ranked {
		if c.MatchCount > 0 && c.MatchCount == len(d.Observation) {
			out = append(out, c)
		}
	}
	return out
}

// Options tunes one ranking call.
type Options struct {
	// IncludeZeroMatches keeps candidates that explain none of the observed
	// findings. Excluded by default: they are not differential candidates.
	IncludeZeroMatches bool `json:"include_zero_matches"`
	// Limit truncates the ranked list after rank assignment. 0 keeps all.
	Limit int `json:"limit"`
}

// DegenerateProfileError reports a disease profile with no expected
// findings. Its coverage would be 0/0, so it cannot be scored.
type DegenerateProfileError struct {
	Disease terminology.Concept
}

func (e *DegenerateProfileError) Error() string {
	return fmt.Sprintf("degenerate disease profile %q: no expected findings", e.Disease.Display(true))
}

package diagnosis

import (
	"fmt"

	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
)

// Score partitions one disease profile's expected findings into matched and
// unmatched against the observation and computes the coverage score
// |matched| / |expected|. It is pure and deterministic: no I/O, no clock,
// no randomness. Profiles with no expected findings cannot be scored and
// yield a DegenerateProfileError.
func Score(profile knowledge.DiseaseProfile, obs Observation) (Candidate, error) {
	expected := profile.ExpectedFindings.Slice()
	size := len(expected)
	if size == 0 {
		return Candidate{}, &DegenerateProfileError{Disease: profile.Disease}
	}

	matched := make([]terminology.Concept, 0, size)
	unmatched := make([]terminology.Concept, 0, size)
	for _, f := range expected {
		if obs.Contains(f) {
			matched = append(matched, f)
		} else {
			unmatched = append(unmatched, f)
		}
	}

	return Candidate{
		Disease:     profile.Disease,
		Matched:     matched,
		Unmatched:   unmatched,
		MatchCount:  len(matched),
		ProfileSize: size,
		Score:       float64(len(matched)) / float64(size),
		Percent:     percent(len(matched), size),
	}, nil
}

// scoreLess compares two coverage fractions a = am/as and b = bm/bs by
// integer cross-multiplication, so ties and orderings are exact regardless
// of what the fractions round to in floating point.
func scoreLess(am, as, bm, bs int) bool {
	return am*bs < bm*as
}

// scoreEqual reports am/as == bm/bs exactly.
func scoreEqual(am, as, bm, bs int) bool {
	return am*bs == bm*as
}

// percent renders matched/size as a percentage with one decimal place,
// rounding half up in integer arithmetic: 2/3 -> "66.7%", 1/16 -> "6.3%".
func percent(matched, size int) string {
	tenths := (matched*2000 + size) / (2 * size)
	return fmt.Sprintf("%d.%d%%", tenths/10, tenths%10)
}

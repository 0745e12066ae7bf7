package diagnosis

import (
	"errors"
	"testing"

	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
)

func concept(code, label string) terminology.Concept {
	return terminology.Concept{System: terminology.SystemUMLS, Code: code, Label: label}
}

func bare(label string) terminology.Concept {
	return terminology.Concept{Label: label}
}

func profile(disease terminology.Concept, findings ...terminology.Concept) knowledge.DiseaseProfile {
	set := terminology.NewSet()
	for _, f := range findings {
		set.Add(f)
	}
	return knowledge.DiseaseProfile{Disease: disease, ExpectedFindings: set}
}

func TestScoreFullCoverage(t *testing.T) {
	p := profile(concept("C0027051", "myocardial infarction"),
		concept("C0008031", "pain chest"),
		concept("C0034642", "rale"),
	)
	obs := NewObservation([]terminology.Concept{
		concept("C0008031", "pain chest"),
		concept("C0034642", "rale"),
	})

	c, err := Score(p, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.MatchCount != 2 || c.ProfileSize != 2 {
		t.Errorf("coverage mismatch: got %d/%d, want 2/2", c.MatchCount, c.ProfileSize)
	}
	if c.Score != 1.0 {
		t.Errorf("score mismatch: got %v, want 1.0", c.Score)
	}
	if c.Percent != "100.0%" {
		t.Errorf("percent mismatch: got %q, want %q", c.Percent, "100.0%")
	}
	if len(c.Unmatched) != 0 {
		t.Errorf("unmatched should be empty, got %v", c.Unmatched)
	}
}

func TestScorePartialCoverageKeepsProfileOrder(t *testing.T) {
	p := profile(concept("C0027051", "myocardial infarction"),
		concept("C0008031", "pain chest"),
		concept("C0034642", "rale"),
		concept("C0030252", "palpitation"),
		concept("C0039070", "syncope"),
	)
	obs := NewObservation([]terminology.Concept{
		concept("C0034642", "rale"),
		concept("C0030252", "palpitation"),
	})

	c, err := Score(p, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.MatchCount != 2 || c.ProfileSize != 4 {
		t.Errorf("coverage mismatch: got %d/%d, want 2/4", c.MatchCount, c.ProfileSize)
	}
	if c.Score != 0.5 {
		t.Errorf("score mismatch: got %v, want 0.5", c.Score)
	}
	if c.Percent != "50.0%" {
		t.Errorf("percent mismatch: got %q, want %q", c.Percent, "50.0%")
	}

	wantMatched := []string{"rale", "palpitation"}
	for i, m := range c.Matched {
		if m.Label != wantMatched[i] {
			t.Errorf("matched[%d]: got %q, want %q", i, m.Label, wantMatched[i])
		}
	}
	wantUnmatched := []string{"pain chest", "syncope"}
	for i, u := range c.Unmatched {
		if u.Label != wantUnmatched[i] {
			t.Errorf("unmatched[%d]: got %q, want %q", i, u.Label, wantUnmatched[i])
		}
	}
}

func TestScoreZeroCoverage(t *testing.T) {
	p := profile(concept("C0002395", "alzheimer's disease"), concept("C0085631", "agitation"))
	obs := NewObservation([]terminology.Concept{concept("C0015967", "fever")})

	c, err := Score(p, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.MatchCount != 0 || c.Score != 0 {
		t.Errorf("zero coverage expected, got count %d score %v", c.MatchCount, c.Score)
	}
	if c.Percent != "0.0%" {
		t.Errorf("percent mismatch: got %q, want %q", c.Percent, "0.0%")
	}
}

func TestScoreDegenerateProfile(t *testing.T) {
	p := profile(concept("C0042029", "urinary tract infection"))
	obs := NewObservation([]terminology.Concept{concept("C0015967", "fever")})

	_, err := Score(p, obs)
	if err == nil {
		t.Fatal("expected error for profile without expected findings")
	}
	var dpe *DegenerateProfileError
	if !errors.As(err, &dpe) {
		t.Fatalf("error type mismatch: got %T", err)
	}
	if dpe.Disease.Code != "C0042029" {
		t.Errorf("disease mismatch: got %q, want %q", dpe.Disease.Code, "C0042029")
	}
}

func TestScoreMatchesBareLabelsAgainstCodedFindings(t *testing.T) {
	p := profile(concept("C0027051", "myocardial infarction"),
		concept("C0008031", "pain chest"),
		concept("C0034642", "rale"),
	)
	obs := NewObservation([]terminology.Concept{bare("Pain  Chest")})

	c, err := Score(p, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.MatchCount != 1 {
		t.Errorf("match count mismatch: got %d, want 1", c.MatchCount)
	}
	if c.Matched[0].Code != "C0008031" {
		t.Errorf("matched concept should be the profile's coded finding, got %+v", c.Matched[0])
	}
}

func TestPercentRounding(t *testing.T) {
	tests := []struct {
		matched, size int
		want          string
	}{
		{1, 2, "50.0%"},
		{2, 3, "66.7%"},
		{1, 3, "33.3%"},
		{1, 8, "12.5%"},
		{1, 16, "6.3%"},
		{0, 7, "0.0%"},
		{5, 5, "100.0%"},
		{13, 13, "100.0%"},
	}
	for _, tt := range tests {
		if got := percent(tt.matched, tt.size); got != tt.want {
			t.Errorf("percent(%d, %d): got %q, want %q", tt.matched, tt.size, got, tt.want)
		}
	}
}

func TestExactScoreComparison(t *testing.T) {
	if !scoreLess(1, 3, 1, 2) {
		t.Error("1/3 should compare below 1/2")
	}
	if scoreLess(1, 2, 1, 3) {
		t.Error("1/2 should not compare below 1/3")
	}
	if !scoreEqual(2, 4, 1, 2) {
		t.Error("2/4 should equal 1/2 exactly")
	}
	if scoreEqual(2, 3, 1, 2) {
		t.Error("2/3 should not equal 1/2")
	}
}

func TestObservationDeduplicatesAndDropsBlanks(t *testing.T) {
	obs := NewObservation([]terminology.Concept{
		concept("C0034642", "rale"),
		bare("RALE"),
		{},
		bare("fever"),
	})
	if obs.Len() != 2 {
		t.Fatalf("observation length mismatch: got %d, want 2", obs.Len())
	}
	got := obs.Findings()
	if got[0].Code != "C0034642" || got[1].Label != "fever" {
		t.Errorf("observation order mismatch: got %+v", got)
	}
}

package extraction

import (
	"testing"

	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
)

func concept(code, label string) terminology.Concept {
	return terminology.Concept{System: terminology.SystemUMLS, Code: code, Label: label}
}

func holderWith(t *testing.T, rows []knowledge.ProfileRow) *knowledge.Holder {
	t.Helper()
	base, err := knowledge.Compile(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := knowledge.NewHolder()
	h.Swap(base)
	return h
}

func testHolder(t *testing.T) *knowledge.Holder {
	t.Helper()
	return holderWith(t, []knowledge.ProfileRow{
		{
			Disease: concept("C0027051", "myocardial infarction"),
			Findings: []terminology.Concept{
				concept("C0008031", "pain chest"),
				concept("C0034642", "rale"),
				concept("C0392680", "shortness of breath"),
			},
		},
		{
			Disease: concept("C0004096", "asthma"),
			Findings: []terminology.Concept{
				concept("C0043144", "wheezing"),
				concept("C0010200", "cough"),
			},
		},
	})
}

func labels(found []terminology.Concept) []string {
	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.Label
	}
	return out
}

func TestExtractSingleFindings(t *testing.T) {
	g := NewGazetteer(testHolder(t))

	found := g.Extract("Patient presents with wheezing and a productive cough.")
	want := []string{"wheezing", "cough"}
	got := labels(found)
	if len(got) != len(want) {
		t.Fatalf("extraction mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if found[0].Code != "C0043144" {
		t.Errorf("extracted concept should carry its code, got %+v", found[0])
	}
}

func TestExtractPrefersLongestPhrase(t *testing.T) {
	g := NewGazetteer(testHolder(t))

	// "shortness of breath" must match as one three-word phrase, not fall
	// through to shorter fragments.
	found := g.Extract("reports shortness of breath on exertion")
	if len(found) != 1 || found[0].Code != "C0392680" {
		t.Fatalf("extraction mismatch: got %v", labels(found))
	}
}

func TestExtractNormalizesCaseAndPunctuation(t *testing.T) {
	g := NewGazetteer(testHolder(t))

	found := g.Extract("RALE; Pain Chest!")
	want := []string{"rale", "pain chest"}
	got := labels(found)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("extraction mismatch: got %v, want %v", got, want)
	}
}

func TestExtractDeduplicates(t *testing.T) {
	g := NewGazetteer(testHolder(t))

	found := g.Extract("cough, cough, and more cough")
	if len(found) != 1 {
		t.Fatalf("repeated mentions should extract once, got %v", labels(found))
	}
}

func TestExtractNoVocabularyHits(t *testing.T) {
	g := NewGazetteer(testHolder(t))

	if found := g.Extract("entirely unrelated narrative"); len(found) != 0 {
		t.Errorf("expected no findings, got %v", labels(found))
	}
}

func TestExtractNotLoaded(t *testing.T) {
	g := NewGazetteer(knowledge.NewHolder())

	if found := g.Extract("wheezing"); found != nil {
		t.Errorf("expected nil without a knowledge base, got %v", labels(found))
	}
}

func TestExtractTracksReload(t *testing.T) {
	h := testHolder(t)
	g := NewGazetteer(h)

	if found := g.Extract("wheezing"); len(found) != 1 {
		t.Fatalf("expected wheezing in initial vocabulary, got %v", labels(found))
	}

	next, err := knowledge.Compile([]knowledge.ProfileRow{
		{
			Disease:  concept("C0015967", "fever of unknown origin"),
			Findings: []terminology.Concept{concept("C0085593", "chill")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Swap(next)

	if found := g.Extract("wheezing"); len(found) != 0 {
		t.Errorf("stale vocabulary after reload: got %v", labels(found))
	}
	if found := g.Extract("chill"); len(found) != 1 {
		t.Errorf("new vocabulary missing after reload: got %v", labels(found))
	}
}

func TestExtractPossessiveLabels(t *testing.T) {
	h := holderWith(t, []knowledge.ProfileRow{
		{
			Disease:  concept("C0002395", "alzheimer's disease"),
			Findings: []terminology.Concept{concept("C0917801", "sleeplessness")},
		},
		{
			Disease:  concept("C0011570", "depression mental"),
			Findings: []terminology.Concept{concept("C0344315", "mood depressed")},
		},
	})
	g := NewGazetteer(h)

	found := g.Extract("sleeplessness with mood depressed episodes")
	if len(found) != 2 {
		t.Fatalf("extraction mismatch: got %v", labels(found))
	}
}

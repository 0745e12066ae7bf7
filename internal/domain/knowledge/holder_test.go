package knowledge

import (
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ddx/ddx/internal/domain/terminology"
)

func demoBase(t *testing.T) *Base {
	t.Helper()
	base, err := Compile(DemoRows())
	if err != nil {
		t.Fatalf("compile demo rows: %v", err)
	}
	return base
}

func TestHolder_CurrentBeforeSwap(t *testing.T) {
	h := NewHolder()

	_, err := h.Current()
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestHolder_SwapPublishes(t *testing.T) {
	h := NewHolder()
	base := demoBase(t)

	h.Swap(base)

	got, err := h.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != base {
		t.Error("expected the swapped model to be current")
	}
}

func TestHolder_SnapshotIsolation(t *testing.T) {
	h := NewHolder()
	first := demoBase(t)
	h.Swap(first)

	snapshot, err := h.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := Compile([]ProfileRow{
		{Disease: concept("C0004096", "asthma"), Findings: []terminology.Concept{
			concept("C0043144", "wheezing"),
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Swap(second)

	if snapshot != first {
		t.Error("snapshot taken before the swap must keep pointing at the old model")
	}
	if snapshot.Len() != first.Len() {
		t.Error("old snapshot contents must be unaffected by the swap")
	}

	current, err := h.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current != second {
		t.Error("expected the new model to be current after the swap")
	}
}

func TestWatcher_ReloadSwapsOnSuccess(t *testing.T) {
	path := writeTempFile(t, "kb.csv", `Disease,Symptom
UMLS:C0032285_pneumonia,"UMLS:C0010200_cough"
`)
	h := NewHolder()
	w := NewWatcher(path, h, zerolog.Nop())

	w.Reload()

	base, err := h.Current()
	if err != nil {
		t.Fatalf("expected model after reload: %v", err)
	}
	if base.Len() != 1 {
		t.Errorf("expected 1 profile, got %d", base.Len())
	}
}

func TestWatcher_ReloadKeepsSnapshotOnFailure(t *testing.T) {
	path := writeTempFile(t, "kb.csv", `Disease,Symptom
UMLS:C0032285_pneumonia,"UMLS:C0010200_cough"
`)
	h := NewHolder()
	w := NewWatcher(path, h, zerolog.Nop())
	w.Reload()

	before, err := h.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A record with findings but no disease concept fails compilation.
	if err := os.WriteFile(path, []byte(`Disease,Symptom
,"UMLS:C0010200_cough"
`), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}
	w.Reload()

	after, err := h.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after != before {
		t.Error("failed reload must keep the previous snapshot published")
	}
}

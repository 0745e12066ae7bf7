package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ddx/ddx/internal/domain/terminology"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := NewRepoSQLite(filepath.Join(t.TempDir(), "kb.db"))
	if err != nil {
		t.Fatalf("open sqlite repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepo_EmptyDatabase(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rows, err := repo.LoadRows(ctx)
	if err != nil {
		t.Fatalf("load from empty database: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected count 0, got %d", n)
	}
}

func TestSQLiteRepo_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	seed := DemoRows()

	if err := repo.ReplaceRows(ctx, seed); err != nil {
		t.Fatalf("replace rows: %v", err)
	}

	loaded, err := repo.LoadRows(ctx)
	if err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(loaded) != len(seed) {
		t.Fatalf("expected %d rows back, got %d", len(seed), len(loaded))
	}

	// Row and finding order must survive storage: compiling both sides must
	// yield the same fingerprint.
	want, err := Compile(seed)
	if err != nil {
		t.Fatalf("compile seed: %v", err)
	}
	got, err := Compile(loaded)
	if err != nil {
		t.Fatalf("compile loaded: %v", err)
	}
	if got.Fingerprint() != want.Fingerprint() {
		t.Errorf("fingerprint changed across storage: got %s, want %s", got.Fingerprint(), want.Fingerprint())
	}

	first := loaded[0].Disease
	if first.System != terminology.SystemUMLS || first.Code != "C0027051" {
		t.Errorf("first disease = %+v, want UMLS C0027051", first)
	}
}

func TestSQLiteRepo_ReplaceOverwrites(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.ReplaceRows(ctx, DemoRows()); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	single := []ProfileRow{
		{
			Disease: terminology.Concept{System: terminology.SystemUMLS, Code: "C0004096", Label: "asthma"},
			Findings: []terminology.Concept{
				{System: terminology.SystemUMLS, Code: "C0043144", Label: "wheezing"},
			},
		},
	}
	if err := repo.ReplaceRows(ctx, single); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after overwrite, got %d", n)
	}

	loaded, err := repo.LoadRows(ctx)
	if err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Disease.Code != "C0004096" {
		t.Errorf("expected only the asthma row, got %+v", loaded)
	}
	if len(loaded[0].Findings) != 1 || loaded[0].Findings[0].Label != "wheezing" {
		t.Errorf("expected the single wheezing finding, got %+v", loaded[0].Findings)
	}
}

func TestSQLiteRepo_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	ctx := context.Background()

	repo, err := NewRepoSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite repo: %v", err)
	}
	if err := repo.ReplaceRows(ctx, DemoRows()); err != nil {
		repo.Close()
		t.Fatalf("replace rows: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewRepoSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite repo: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("count after reopen: %v", err)
	}
	if n != len(DemoRows()) {
		t.Errorf("expected %d rows after reopen, got %d", len(DemoRows()), n)
	}
}

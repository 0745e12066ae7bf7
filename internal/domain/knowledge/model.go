package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ddx/ddx/internal/domain/terminology"
)

// ProfileRow is one raw knowledge-base row as handed over by a loader: a
// disease concept and the findings it is expected to produce. Loaders may
// emit several rows for the same disease; Compile merges them.
type ProfileRow struct {
	Disease  terminology.Concept
	Findings []terminology.Concept
}

// DiseaseProfile is one compiled knowledge-base entry. ExpectedFindings is
// deduplicated by concept equality and must be treated as read-only after
// Compile returns.
type DiseaseProfile struct {
	Disease          terminology.Concept
	ExpectedFindings *terminology.Set
}

// KnowledgeBaseError reports a structural problem that prevents building a
// usable model. It is fatal to the loading step: no ranking can run until a
// corrected source compiles.
type KnowledgeBaseError struct {
	Source string // file or table the rows came from, may be empty
	Row    int    // 1-based row number in loader order, 0 when not row-specific
	Reason string
	Err    error
}

func (e *KnowledgeBaseError) Error() string {
	var b strings.Builder
	b.WriteString("knowledge base")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *KnowledgeBaseError) Unwrap() error { return e.Err }

// Base is the compiled, immutable knowledge-base model: disease profiles in
// source order plus an inverted index from finding to the profiles listing
// it. No mutation API exists after Compile, so a Base may be shared across
// concurrent ranking calls without coordination.
type Base struct {
	profiles []DiseaseProfile
	index    map[string][]int
	findings []terminology.Concept
	builtAt  time.Time
	hash     string
}

// Compile builds a Base from raw loader rows. Rows sharing the same disease
// concept are unioned into one profile that keeps the first occurrence's
// position. Findings are deduplicated per profile; blank finding cells are
// dropped. A row whose disease has neither code nor label cannot be
// identified and fails compilation with a KnowledgeBaseError.
func Compile(rows []ProfileRow) (*Base, error) {
	b := &Base{
		index:   make(map[string][]int),
		builtAt: time.Now().UTC(),
	}

	pos := make(map[string]int)
	for i, row := range rows {
		if row.Disease.Code == "" && row.Disease.Label == "" {
			return nil, &KnowledgeBaseError{Row: i + 1, Reason: "row has no identifiable disease concept"}
		}

		p, seen := lookupPosition(pos, row.Disease)
		if !seen {
			p = len(b.profiles)
			b.profiles = append(b.profiles, DiseaseProfile{
				Disease:          row.Disease,
				ExpectedFindings: terminology.NewSet(),
			})
			for _, k := range row.Disease.IndexKeys() {
				pos[k] = p
			}
		}

		for _, f := range row.Findings {
			if f.Code == "" && f.Label == "" {
				continue
			}
			b.profiles[p].ExpectedFindings.Add(f)
		}
	}

	vocabulary := terminology.NewSet()
	for p, profile := range b.profiles {
		for _, f := range profile.ExpectedFindings.Slice() {
			for _, k := range f.IndexKeys() {
				if n := len(b.index[k]); n > 0 && b.index[k][n-1] == p {
					continue
				}
				b.index[k] = append(b.index[k], p)
			}
			vocabulary.Add(f)
		}
	}
	b.findings = vocabulary.Slice()
	b.hash = fingerprint(b.profiles)

	return b, nil
}

// lookupPosition resolves the profile position for a disease concept using
// the same asymmetric key scheme as concept sets.
func lookupPosition(pos map[string]int, disease terminology.Concept) (int, bool) {
	for _, k := range disease.MatchKeys() {
		if p, ok := pos[k]; ok {
			return p, true
		}
	}
	return 0, false
}

// fingerprint hashes the compiled content in a row-order-independent way so
// that two models built from permuted sources report the same identity.
func fingerprint(profiles []DiseaseProfile) string {
	lines := make([]string, 0, len(profiles))
	for _, p := range profiles {
		keys := make([]string, 0, p.ExpectedFindings.Len()+1)
		for _, f := range p.ExpectedFindings.Slice() {
			keys = append(keys, f.Key())
		}
		sort.Strings(keys)
		lines = append(lines, p.Disease.Key()+"="+strings.Join(keys, ","))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

// Len returns the number of compiled disease profiles.
func (b *Base) Len() int { return len(b.profiles) }

// ProfileAt returns the profile at position i in source order.
func (b *Base) ProfileAt(i int) DiseaseProfile { return b.profiles[i] }

// Profiles returns the profile sequence in source order. The slice is a
// copy; the profiles it holds remain shared and read-only.
func (b *Base) Profiles() []DiseaseProfile {
	out := make([]DiseaseProfile, len(b.profiles))
	copy(out, b.profiles)
	return out
}

// DiseasesFor returns the profiles whose expected findings contain the given
// concept, in source order.
func (b *Base) DiseasesFor(c terminology.Concept) []DiseaseProfile {
	seen := make(map[int]struct{})
	var positions []int
	for _, k := range c.MatchKeys() {
		for _, p := range b.index[k] {
			if p < 0 || p >= len(b.profiles) {
				panic(fmt.Sprintf("knowledge: inverted index references profile %d outside sequence of %d", p, len(b.profiles)))
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			positions = append(positions, p)
		}
	}
	sort.Ints(positions)

	out := make([]DiseaseProfile, 0, len(positions))
	for _, p := range positions {
		out = append(out, b.profiles[p])
	}
	return out
}

// Findings returns the distinct finding vocabulary across all profiles in
// first-seen order.
func (b *Base) Findings() []terminology.Concept {
	out := make([]terminology.Concept, len(b.findings))
	copy(out, b.findings)
	return out
}

// Fingerprint returns a short content hash identifying the compiled model.
func (b *Base) Fingerprint() string { return b.hash }

// BuiltAt returns the compilation timestamp.
func (b *Base) BuiltAt() time.Time { return b.builtAt }

// Stats summarizes a compiled model for operational endpoints.
type Stats struct {
	Diseases    int       `json:"diseases"`
	Findings    int       `json:"findings"`
	Degenerate  int       `json:"degenerate_profiles"`
	Fingerprint string    `json:"fingerprint"`
	BuiltAt     time.Time `json:"built_at"`
}

// Stats computes summary counts for the model. Degenerate counts profiles
// with no expected findings; they compile but can never be ranked.
func (b *Base) Stats() Stats {
	degenerate := 0
	for _, p := range b.profiles {
		if p.ExpectedFindings.Len() == 0 {
			degenerate++
		}
	}
	return Stats{
		Diseases:    len(b.profiles),
		Findings:    len(b.findings),
		Degenerate:  degenerate,
		Fingerprint: b.hash,
		BuiltAt:     b.builtAt,
	}
}

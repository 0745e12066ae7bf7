package diagnosis

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
)

// Engine ranks every disease profile in a knowledge base against one
// observation. It holds no mutable state, so one Engine serves concurrent
// callers.
type Engine struct {
	parallelism int
}

// NewEngine returns an engine that scores profiles on up to parallelism
// goroutines per call. Zero or negative means one worker per CPU.
func NewEngine(parallelism int) *Engine {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &Engine{parallelism: parallelism}
}

// Rank scores all profiles, drops zero-coverage candidates unless asked to
// keep them, orders the rest by match count then exact score then disease
// key, assigns dense shared ranks, and collects the observed findings no
// ranked candidate explains.
//
// Scoring is embarrassingly parallel: workers write to disjoint slots of a
// pre-sized slice, so results are positionally stable and the output is
// byte-for-byte deterministic for a fixed base, observation, and options.
func (e *Engine) Rank(ctx context.Context, base *knowledge.Base, obs Observation, opts Options) (*Differential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if base == nil {
		return nil, knowledge.ErrNotLoaded
	}

	n := base.Len()
	candidates := make([]Candidate, n)
	degenerate := make([]bool, n)

	workers := e.parallelism
	if workers > n {
		workers = n
	}
	chunk := 0
	if workers > 0 {
		chunk = (n + workers - 1) / workers
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				c, err := Score(base.ProfileAt(i), obs)
				if err != nil {
					var dpe *DegenerateProfileError
					if errors.As(err, &dpe) {
						degenerate[i] = true
						continue
					}
					// Score has no other failure mode.
					panic(err)
				}
				candidates[i] = c
			}
		}(start, end)
	}
	wg.Wait()

	// Observed findings covered by at least one positive-coverage candidate.
	// Collected before filtering and truncation so the unexplained set never
	// depends on IncludeZeroMatches or Limit.
	explained := terminology.NewSet()
	ranked := make([]Candidate, 0, n)
	var degenerateDiseases []terminology.Concept
	for i := 0; i < n; i++ {
		if degenerate[i] {
			degenerateDiseases = append(degenerateDiseases, base.ProfileAt(i).Disease)
			continue
		}
		if candidates[i].MatchCount > 0 {
			for _, f := range candidates[i].Matched {
				explained.Add(f)
			}
		} else if !opts.IncludeZeroMatches {
			continue
		}
		ranked = append(ranked, candidates[i])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		if !scoreEqual(a.MatchCount, a.ProfileSize, b.MatchCount, b.ProfileSize) {
			return scoreLess(b.MatchCount, b.ProfileSize, a.MatchCount, a.ProfileSize)
		}
		return a.Disease.SortKey() < b.Disease.SortKey()
	})

	// Dense 1-based ranks, shared within each (match count, exact score)
	// group: two candidates explaining the same findings count with the same
	// coverage are equally plausible.
	rank := 0
	for i := range ranked {
		if i == 0 ||
			ranked[i].MatchCount != ranked[i-1].MatchCount ||
			!scoreEqual(ranked[i].MatchCount, ranked[i].ProfileSize, ranked[i-1].MatchCount, ranked[i-1].ProfileSize) {
			rank++
		}
		ranked[i].Rank = rank
	}

	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	unexplained := make([]terminology.Concept, 0, obs.Len())
	for _, f := range obs.Findings() {
		if !explained.Contains(f) {
			unexplained = append(unexplained, f)
		}
	}

	return &Differential{
		QueryID:     uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Observation: obs.Findings(),
		Ranked:      ranked,
		Unexplained: unexplained,
		Degenerate:  degenerateDiseases,
		Evaluated:   n,
	}, nil
}

package extraction

import (
	"strings"
	"sync"
	"unicode"

	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
)

// Gazetteer recognizes knowledge-base finding vocabulary in free text by
// greedy longest-phrase matching over normalized tokens. It reads the
// vocabulary from the published knowledge base and rebuilds its phrase table
// whenever the base's fingerprint changes, so hot reloads are picked up
// without restarting.
type Gazetteer struct {
	holder *knowledge.Holder

	mu          sync.RWMutex
	fingerprint string
	phrases     map[string]terminology.Concept
	maxWords    int
}

// NewGazetteer returns a gazetteer backed by the holder's current model.
func NewGazetteer(holder *knowledge.Holder) *Gazetteer {
	return &Gazetteer{holder: holder}
}

// Extract scans text left to right, at each position trying the longest
// vocabulary phrase first, and returns the distinct findings recognized in
// order of first appearance. Unrecognized tokens are skipped. With no
// knowledge base loaded the result is empty.
func (g *Gazetteer) Extract(text string) []terminology.Concept {
	phrases, maxWords := g.table()
	if len(phrases) == 0 {
		return nil
	}

	tokens := tokenize(text)
	seen := terminology.NewSet()
	var out []terminology.Concept
	for i := 0; i < len(tokens); {
		longest := maxWords
		if rest := len(tokens) - i; rest < longest {
			longest = rest
		}

		matched := 0
		for n := longest; n >= 1; n-- {
			if c, ok := phrases[strings.Join(tokens[i:i+n], " ")]; ok {
				if seen.Add(c) {
					out = append(out, c)
				}
				matched = n
				break
			}
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return out
}

// table returns the phrase table for the current knowledge base, rebuilding
// it when the published model has changed.
func (g *Gazetteer) table() (map[string]terminology.Concept, int) {
	base, err := g.holder.Current()
	if err != nil {
		return nil, 0
	}

	g.mu.RLock()
	if g.fingerprint == base.Fingerprint() {
		phrases, maxWords := g.phrases, g.maxWords
		g.mu.RUnlock()
		return phrases, maxWords
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fingerprint != base.Fingerprint() {
		g.rebuild(base)
	}
	return g.phrases, g.maxWords
}

// rebuild indexes the base's finding vocabulary under the same tokenization
// Extract applies to input text. First registration wins on phrase clashes.
func (g *Gazetteer) rebuild(base *knowledge.Base) {
	phrases := make(map[string]terminology.Concept)
	maxWords := 0
	for _, f := range base.Findings() {
		tokens := tokenize(f.Label)
		if len(tokens) == 0 {
			continue
		}
		key := strings.Join(tokens, " ")
		if _, ok := phrases[key]; !ok {
			phrases[key] = f
		}
		if len(tokens) > maxWords {
			maxWords = len(tokens)
		}
	}
	g.phrases = phrases
	g.maxWords = maxWords
	g.fingerprint = base.Fingerprint()
}

// tokenize lower-cases text and splits it on anything that is not a letter,
// digit or apostrophe. Apostrophes survive so possessive disease names like
// "alzheimer's" keep their vocabulary form.
func tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

package terminology

// Set is an insertion-ordered collection of concepts deduplicated by the
// concept equality rule. Membership checks are constant-time via the keys
// produced by IndexKeys and MatchKeys.
type Set struct {
	items []Concept
	keys  map[string]struct{}
}

// NewSet builds a set from the given concepts, dropping duplicates while
// preserving first-occurrence order.
func NewSet(concepts ...Concept) *Set {
	s := &Set{keys: make(map[string]struct{}, len(concepts)*2)}
	for _, c := range concepts {
		s.Add(c)
	}
	return s
}

// Add inserts c unless an equal concept is already present. It reports
// whether c was added.
func (s *Set) Add(c Concept) bool {
	if s.Contains(c) {
		return false
	}
	s.items = append(s.items, c)
	for _, k := range c.IndexKeys() {
		s.keys[k] = struct{}{}
	}
	return true
}

// Contains reports whether an equal concept is present.
func (s *Set) Contains(c Concept) bool {
	for _, k := range c.MatchKeys() {
		if _, ok := s.keys[k]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of concepts in the set.
func (s *Set) Len() int {
	return len(s.items)
}

// Slice returns the concepts in insertion order. The returned slice is a
// copy; mutating it does not affect the set.
func (s *Set) Slice() []Concept {
	out := make([]Concept, len(s.items))
	copy(out, s.items)
	return out
}

// Union returns a new set holding the concepts of s followed by those of
// other that are not already present.
func (s *Set) Union(other *Set) *Set {
	out := NewSet(s.items...)
	for _, c := range other.items {
		out.Add(c)
	}
	return out
}

// Intersect returns a new set holding the concepts of s present in other,
// in s's order.
func (s *Set) Intersect(other *Set) *Set {
	out := NewSet()
	for _, c := range s.items {
		if other.Contains(c) {
			out.Add(c)
		}
	}
	return out
}

// Diff returns a new set holding the concepts of s absent from other, in
// s's order.
func (s *Set) Diff(other *Set) *Set {
	out := NewSet()
	for _, c := range s.items {
		if !other.Contains(c) {
			out.Add(c)
		}
	}
	return out
}

package terminology

import (
	"regexp"
	"strings"
)

// SystemUMLS is the system URI for concepts identified by a UMLS CUI.
const SystemUMLS = "http://www.nlm.nih.gov/research/umls"

// Concept is a normalized biomedical entity such as a disease or a clinical
// finding. Code is an optional stable identifier (for UMLS concepts, the
// CUI); Label is the required human-readable name.
type Concept struct {
	System string `db:"system_uri" json:"system,omitempty"`
	Code   string `db:"code" json:"code,omitempty"`
	Label  string `db:"label" json:"label"`
}

// NormalizeLabel lower-cases a label and collapses runs of whitespace so
// that label comparison is insensitive to case and spacing.
func NormalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Equal reports whether two concepts denote the same entity. Codes decide
// when both sides carry one; otherwise normalized labels decide.
func (c Concept) Equal(other Concept) bool {
	if c.Code != "" && other.Code != "" {
		return strings.EqualFold(c.Code, other.Code)
	}
	return NormalizeLabel(c.Label) == NormalizeLabel(other.Label)
}

// Key returns the canonical identity key: the code when present, otherwise
// the normalized label.
func (c Concept) Key() string {
	if c.Code != "" {
		return "code:" + strings.ToLower(c.Code)
	}
	return "label:" + NormalizeLabel(c.Label)
}

// IndexKeys returns the keys under which the concept is registered in a
// lookup table. A coded concept is reachable by its code, and by its label
// only for code-less probes; a code-less concept is reachable by its label
// from either kind of probe.
func (c Concept) IndexKeys() []string {
	label := "label:" + NormalizeLabel(c.Label)
	if c.Code != "" {
		return []string{"code:" + strings.ToLower(c.Code), label}
	}
	return []string{"bare:" + NormalizeLabel(c.Label), label}
}

// MatchKeys returns the keys to probe when testing membership in a table
// built with IndexKeys. The asymmetry mirrors Equal: a coded probe matches
// entries by code, or by label against entries that carry no code.
func (c Concept) MatchKeys() []string {
	if c.Code != "" {
		return []string{"code:" + strings.ToLower(c.Code), "bare:" + NormalizeLabel(c.Label)}
	}
	return []string{"label:" + NormalizeLabel(c.Label)}
}

// SortKey returns the deterministic ordering key used to break ranking
// ties: the lower-cased code when present, otherwise the normalized label.
func (c Concept) SortKey() string {
	if c.Code != "" {
		return strings.ToLower(c.Code)
	}
	return NormalizeLabel(c.Label)
}

// Display renders the concept for presentation, prefixing the code when
// showCode is set and the concept has one.
func (c Concept) Display(showCode bool) string {
	if showCode && c.Code != "" {
		return c.Code + ": " + c.Label
	}
	return c.Label
}

var umlsCUI = regexp.MustCompile(`^[Cc][0-9]+$`)

// ParseUMLS parses raw knowledge-base cell text such as
// "UMLS:C0008031_pain chest" into a Concept. The optional "UMLS:" prefix is
// followed by a CUI and an underscore before the label. Text without a
// recognizable code becomes a code-less Concept whose label is the whole
// text. Underscores inside labels are read as spaces.
func ParseUMLS(raw string) Concept {
	text := strings.TrimSpace(raw)
	rest, hasPrefix := cutPrefixFold(text, "UMLS:")
	if !hasPrefix {
		return Concept{Label: cleanLabel(text)}
	}

	code, label, found := strings.Cut(rest, "_")
	code = strings.TrimSpace(code)
	if !found || !umlsCUI.MatchString(code) {
		return Concept{System: SystemUMLS, Label: cleanLabel(rest)}
	}

	return Concept{
		System: SystemUMLS,
		Code:   strings.ToUpper(code),
		Label:  cleanLabel(label),
	}
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// cleanLabel turns slug-style underscores into spaces and collapses
// whitespace, preserving the original casing.
func cleanLabel(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

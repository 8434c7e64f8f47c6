package hallucination

import (
	"regexp"
	"strings"

	"personalization-service/internal/profile"
)

var (
	sourceDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
	}
	amountPattern = regexp.MustCompile(`[£$€]\s*\d+(?:,\d{3})*(?:\.\d{1,2})?`)
	numberPattern = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	yearInText    = regexp.MustCompile(`\b(?:1\d{3}|20\d{2})\b`)
)

// TruthSet is everything a generated message may assert without further evidence
type TruthSet struct {
	source  string
	values  []string
	names   map[string]bool
	dates   []string
	years   map[string]bool
	amounts map[string]bool
}

// NewTruthSet builds the grounding reference from a source document and a customer profile
func NewTruthSet(source string, p profile.Profile) *TruthSet {
	t := &TruthSet{
		source:  strings.ToLower(source),
		names:   make(map[string]bool),
		years:   make(map[string]bool),
		amounts: make(map[string]bool),
	}

	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		t.values = append(t.values, strings.ToLower(v))
		for _, n := range numberPattern.FindAllString(v, -1) {
			t.amounts[normalizeAmount(n)] = true
		}
		for _, y := range yearInText.FindAllString(v, -1) {
			t.years[y] = true
		}
	}

	if name := p.Name(); name != "" {
		t.names[strings.ToLower(name)] = true
	}
	for _, part := range p.NameParts() {
		t.names[strings.ToLower(part)] = true
	}

	for _, pattern := range sourceDatePatterns {
		t.dates = append(t.dates, pattern.FindAllString(source, -1)...)
	}
	for _, y := range yearInText.FindAllString(source, -1) {
		t.years[y] = true
	}
	for _, a := range amountPattern.FindAllString(source, -1) {
		t.amounts[normalizeAmount(a)] = true
	}
	return t
}

// KnowsName reports whether every token of a name is grounded
func (t *TruthSet) KnowsName(name string) bool {
	tokens := strings.Fields(strings.ToLower(name))
	if len(tokens) == 0 {
		return true
	}
	if t.names[strings.Join(tokens, " ")] || t.inSource(strings.Join(tokens, " ")) {
		return true
	}
	for _, tok := range tokens {
		if !t.names[tok] && !t.inValues(tok) {
			return false
		}
	}
	return true
}

// KnowsYear reports whether a year appears in the source, its dates or the profile
func (t *TruthSet) KnowsYear(year string) bool {
	return t.years[year]
}

// KnowsAmount compares amounts numerically, ignoring currency symbols and separators
func (t *TruthSet) KnowsAmount(amount string) bool {
	for _, n := range numberPattern.FindAllString(amount, -1) {
		if t.amounts[normalizeAmount(n)] {
			return true
		}
	}
	return false
}

// Grounded reports whether a phrase occurs in the source or in any profile value
func (t *TruthSet) Grounded(phrase string) bool {
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return true
	}
	return t.inSource(p) || t.inValues(p)
}

// ProfileMentions reports whether any profile value contains a word
func (t *TruthSet) ProfileMentions(word string) bool {
	return t.inValues(strings.ToLower(word))
}

// Dates returns the date expressions found in the source
func (t *TruthSet) Dates() []string {
	return t.dates
}

func (t *TruthSet) inSource(s string) bool {
	return strings.Contains(t.source, s)
}

func (t *TruthSet) inValues(s string) bool {
	for _, v := range t.values {
		if strings.Contains(v, s) {
			return true
		}
	}
	return false
}

func normalizeAmount(s string) string {
	s = strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "").Replace(s)
	if i := strings.Index(s, "."); i >= 0 {
		frac := strings.TrimRight(s[i+1:], "0")
		if frac == "" {
			s = s[:i]
		} else {
			s = s[:i+1] + frac
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

package inference

import (
	"regexp"
	"strings"
	"unicode"

	"personalization-service/internal/profile"
)

var (
	digitPattern   = regexp.MustCompile(`\d`)
	currencyWords  = regexp.MustCompile(`(?i)[£$€]|\b(?:pounds?|pence|gbp|usd|euros?)\b`)
	monthPattern   = regexp.MustCompile(`(?i)\b(?:january|february|march|april|june|july|august|september|october|november|december)\b`)
	titlePattern   = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr)\b\.?`)
	staffPattern   = regexp.MustCompile(`(?i)\b(?:branch|advisor|adviser|manager|colleague|representative|banker|staff)\b`)
	historyPattern = regexp.MustCompile(`(?i)\b(?:as we discussed|last time|you told us|you mentioned|when we spoke|your recent visit|your last visit|you asked)\b`)
	familyPattern  = regexp.MustCompile(`(?i)\byour\s+(?:wife|husband|partner|son|daughter|children|kids)\b`)
)

// capitalized words allowed anywhere in a statement
var allowedCapitals = map[string]bool{"I": true, "We": true, "You": true, "Your": true}

// IsSafe applies the specificity guard. It rejects statements asserting specifics nobody has verified.
func IsSafe(statement string, prof profile.Profile) (bool, string) {
	s := strings.TrimSpace(statement)
	switch {
	case s == "":
		return false, "empty"
	case digitPattern.MatchString(s):
		return false, "contains a number"
	case currencyWords.MatchString(s):
		return false, "mentions money"
	case monthPattern.MatchString(s):
		return false, "mentions a date"
	case titlePattern.MatchString(s):
		return false, "names a person"
	case staffPattern.MatchString(s):
		return false, "refers to staff or branches"
	case historyPattern.MatchString(s):
		return false, "claims shared history"
	case familyPattern.MatchString(s):
		return false, "assumes family details"
	}
	if name := unknownProperNoun(s, prof); name != "" {
		return false, "mentions " + name
	}
	return true, ""
}

// unknownProperNoun returns a capitalized word after the first that the profile does not contain
func unknownProperNoun(s string, prof profile.Profile) string {
	known := make(map[string]bool)
	for _, part := range prof.NameParts() {
		known[strings.ToLower(part)] = true
	}

	words := strings.Fields(s)
	for i, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' })
		if i == 0 || w == "" || allowedCapitals[w] {
			continue
		}
		// sentence starts are not proper nouns
		if prev := words[i-1]; strings.HasSuffix(prev, ".") || strings.HasSuffix(prev, "!") || strings.HasSuffix(prev, "?") {
			continue
		}
		if r := []rune(w)[0]; unicode.IsUpper(r) && !known[strings.ToLower(w)] {
			return w
		}
	}
	return ""
}

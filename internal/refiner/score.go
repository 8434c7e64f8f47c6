package refiner

import (
	"math"
	"regexp"
	"strings"

	"personalization-service/internal/models"
	"personalization-service/internal/profile"
)

var (
	pronouns        = map[string]bool{"you": true, "your": true, "you're": true, "you've": true, "you'll": true, "yours": true}
	connectingWords = []string{"understand", "appreciate", "value", "important", "matter"}
	tokenPattern    = regexp.MustCompile(`[\p{L}']+`)
)

// fillerChunks never prove that an inference was used
var fillerChunks = map[string]bool{
	"we value your":      true,
	"we understand that": true,
	"you may be":         true,
}

// PersonalizationScore is 0.3 + min(0.4, 0.05·elements) + min(0.2, 0.01·pronouns) + min(0.1, 0.02·connecting words)
func PersonalizationScore(text string, elements int) float64 {
	lower := strings.ToLower(text)

	pronounCount := 0
	for _, tok := range tokenPattern.FindAllString(lower, -1) {
		if pronouns[tok] {
			pronounCount++
		}
	}
	connecting := 0
	for _, w := range connectingWords {
		if strings.Contains(lower, w) {
			connecting++
		}
	}

	score := 0.3 +
		math.Min(0.4, float64(elements)*0.05) +
		math.Min(0.2, float64(pronounCount)*0.01) +
		math.Min(0.1, float64(connecting)*0.02)
	return math.Min(1.0, score)
}

// QualityScore is 0.5, plus 0.2 when hallucination free, plus 0.2 for five or more elements
// (0.1 for three or more), plus 0.1 for a body of 50 to 500 words
func QualityScore(text string, elements int, hallucinationFree bool) float64 {
	score := 0.5
	if hallucinationFree {
		score += 0.2
	}
	switch {
	case elements >= 5:
		score += 0.2
	case elements >= 3:
		score += 0.1
	}
	if wc := wordCount(text); wc >= 50 && wc <= 500 {
		score += 0.1
	}
	return math.Min(1.0, score)
}

// Elements counts the distinct personalization references present in a text:
// name parts, provided profile values and eligible inferences
func Elements(text string, prof profile.Profile, inferences []models.InferenceRule) int {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)

	for _, part := range prof.NameParts() {
		seen["name:"+strings.ToLower(part)] = hasWord(lower, strings.ToLower(part))
	}
	for _, k := range prof.Keys() {
		if k == profile.FieldCustomerID || k == "id" || k == profile.FieldName ||
			k == profile.FieldFirstName || k == profile.FieldLastName {
			continue
		}
		v, _ := prof.Get(k)
		v = strings.ToLower(v)
		if len(v) < 3 || isNumeric(v) {
			continue
		}
		seen["value:"+v] = strings.Contains(lower, v)
	}
	for _, inf := range inferences {
		if inf.Eligible() {
			seen["inference:"+strings.ToLower(inf.Inference)] = Verify(inf, text)
		}
	}

	n := 0
	for _, present := range seen {
		if present {
			n++
		}
	}
	return n
}

// Verify reports whether an inference made it into the text: the whole statement, or any
// run of three consecutive words that is not a filler phrase
func Verify(inf models.InferenceRule, text string) bool {
	content := strings.ToLower(text)
	stmt := strings.ToLower(strings.TrimSpace(inf.Inference))
	if stmt == "" {
		return false
	}
	if strings.Contains(content, strings.TrimRight(stmt, ".!")) {
		return true
	}

	words := tokenPattern.FindAllString(stmt, -1)
	for i := 0; i+3 <= len(words); i++ {
		chunk := strings.Join(words[i:i+3], " ")
		if fillerChunks[chunk] {
			continue
		}
		if strings.Contains(content, chunk) {
			return true
		}
	}
	return false
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func hasWord(text, word string) bool {
	if word == "" {
		return false
	}
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		if tok == word || strings.TrimSuffix(tok, "'s") == word {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' && r != '£' && r != '$' && r != '€' && r != ' ' {
			return false
		}
	}
	return true
}

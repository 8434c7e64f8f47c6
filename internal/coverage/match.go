package coverage

import (
	"regexp"
	"strconv"
	"strings"

	"personalization-service/internal/models"
)

var (
	numberPattern  = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	wordPattern    = regexp.MustCompile(`[\p{L}\p{N}']+`)
	ordinalPattern = regexp.MustCompile(`^(\d+)(?:st|nd|rd|th)$`)
	numericDate    = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})$`)
	labelPattern   = regexp.MustCompile(`^\p{L}[\p{L}\p{N} ]{1,29}:\s*`)
	compactPattern = regexp.MustCompile(`[\s\-().]+`)
)

var months = map[string]string{
	"jan": "january", "january": "january",
	"feb": "february", "february": "february",
	"mar": "march", "march": "march",
	"apr": "april", "april": "april",
	"may": "may",
	"jun": "june", "june": "june",
	"jul": "july", "july": "july",
	"aug": "august", "august": "august",
	"sep": "september", "sept": "september", "september": "september",
	"oct": "october", "october": "october",
	"nov": "november", "november": "november",
	"dec": "december", "december": "december",
}

var monthByNumber = []string{"", "january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december"}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "your": true, "have": true,
	"will": true, "been": true, "were": true, "they": true, "their": true, "there": true,
	"which": true, "about": true, "would": true, "could": true, "should": true, "into": true,
	"than": true, "them": true, "these": true, "those": true, "what": true, "when": true,
}

// searchText lower-cases a point and drops a leading "Label:" prefix
func searchText(content string) string {
	s := strings.ToLower(strings.TrimSpace(content))
	return strings.TrimSpace(labelPattern.ReplaceAllString(s, ""))
}

// Matches reports whether a key point is present in a channel text
func Matches(point models.KeyPoint, text string) bool {
	search := searchText(point.Content)
	content := strings.ToLower(text)
	if search == "" || content == "" {
		return false
	}

	if containsBounded(content, search) {
		return true
	}

	var found bool
	switch point.Category {
	case models.CategoryDate, models.CategoryDeadline:
		found = matchDate(search, content)
	case models.CategoryAmount, models.CategoryPercentage:
		found = matchNumbers(search, content)
	case models.CategoryFeature, models.CategoryAction, models.CategoryBenefit:
		found = matchHalfWords(search, content)
	case models.CategoryContact:
		found = matchContact(search, content)
	case models.CategoryAccount:
		digits := digitsOnly(search)
		found = len(digits) >= 4 && strings.Contains(compactPattern.ReplaceAllString(content, ""), digits)
	default:
		found = matchMeaningfulWords(search, content)
	}
	if found {
		return true
	}

	// Common closings are paraphrased freely
	switch {
	case strings.Contains(search, "thank you"):
		return containsAny(content, "thank you", "thanks for", "appreciate your", "grateful for")
	case strings.Contains(search, "banking with us"):
		return containsAny(content, "banking with us", "choosing us", "being our customer")
	}
	return false
}

// dateTokens normalizes date components: month names to their full form, ordinals to plain numbers
func dateTokens(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, raw := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '\n' || r == '\t'
	}) {
		if m := numericDate.FindStringSubmatch(raw); m != nil {
			tokens[trimZeros(m[1])] = true
			if n, err := strconv.Atoi(m[2]); err == nil && n >= 1 && n <= 12 {
				tokens[monthByNumber[n]] = true
			}
			tokens[m[3]] = true
			continue
		}
		if m := ordinalPattern.FindStringSubmatch(raw); m != nil {
			tokens[trimZeros(m[1])] = true
			continue
		}
		if full, ok := months[raw]; ok {
			tokens[full] = true
			continue
		}
		if _, err := strconv.Atoi(raw); err == nil {
			tokens[trimZeros(raw)] = true
		}
	}
	return tokens
}

func matchDate(search, content string) bool {
	want := dateTokens(search)
	if len(want) == 0 {
		return false
	}
	have := dateTokens(content)
	need := 2
	if len(want) < need {
		need = len(want)
	}
	hits := 0
	for tok := range want {
		if have[tok] {
			hits++
		}
	}
	return hits >= need
}

func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	if i := strings.Index(s, "."); i >= 0 {
		frac := strings.TrimRight(s[i+1:], "0")
		if frac == "" {
			s = s[:i]
		} else {
			s = s[:i+1] + frac
		}
	}
	return trimZeros(s)
}

func matchNumbers(search, content string) bool {
	want := numberPattern.FindAllString(search, -1)
	if len(want) == 0 {
		return false
	}
	have := make(map[string]bool)
	for _, n := range numberPattern.FindAllString(content, -1) {
		have[normalizeNumber(n)] = true
	}
	for _, n := range want {
		if have[normalizeNumber(n)] {
			return true
		}
	}
	return false
}

func contentWords(s string, minLen int) []string {
	var out []string
	for _, w := range wordPattern.FindAllString(s, -1) {
		if len([]rune(w)) > minLen {
			out = append(out, w)
		}
	}
	return out
}

func matchHalfWords(search, content string) bool {
	words := contentWords(search, 3)
	if len(words) == 0 {
		return false
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			hits++
		}
	}
	return hits*2 >= len(words)
}

func matchContact(search, content string) bool {
	compactContent := compactPattern.ReplaceAllString(content, "")

	digits := digitsOnly(search)
	if len(digits) >= 7 && strings.Contains(compactContent, digits) {
		return true
	}

	url := strings.TrimPrefix(strings.TrimPrefix(search, "https://"), "http://")
	url = strings.TrimSuffix(strings.TrimPrefix(url, "www."), "/")
	url = strings.Join(strings.Fields(url), "")
	if strings.Contains(url, ".") && strings.Contains(strings.Join(strings.Fields(content), ""), url) {
		return true
	}
	return false
}

func matchMeaningfulWords(search, content string) bool {
	var words []string
	for _, w := range contentWords(search, 3) {
		if !stopwords[w] {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return false
	}
	required := 0.5 * float64(len(words))
	if required > 3 {
		required = 3
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			hits++
		}
	}
	return float64(hits) >= required
}

// containsBounded finds search in s where it is not part of a longer word or number
func containsBounded(s, search string) bool {
	for offset := 0; offset <= len(s)-len(search); {
		i := strings.Index(s[offset:], search)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(search)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return !isAlnum(s[i-1])
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	c := s[i]
	if (c == '.' || c == ',') && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
		return false
	}
	return !isAlnum(c)
}

// isAlnum works on bytes; multi-byte runes count as word characters
func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func trimZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" || t[0] == '.' {
		return "0" + t
	}
	return t
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

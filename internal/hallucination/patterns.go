package hallucination

import (
	"regexp"
	"strconv"
	"strings"

	"personalization-service/internal/models"
)

const roleWords = `(advisor|adviser|manager|representative|banker|consultant)`

var (
	titleName = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)

	roleThenName = regexp.MustCompile(`\b[Yy]our\s+((?:account|personal|relationship|financial|dedicated|mortgage)\s+)?` +
		roleWords + `,?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	nameThenRole = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?),?\s+your\s+` +
		`((?:account|personal|relationship|financial|dedicated|mortgage)\s+)?` + roleWords + `\b`)

	branchName = regexp.MustCompile(`\b(?i:at|visit|from|in)\s+(our\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s+(?:branch|office|location|store))\b`)
	streetName = regexp.MustCompile(`\b(?i:at)\s+(our\s+([A-Z][a-z]+\s+(?:Street|Road|Avenue|Lane|Square)(?:\s+(?:branch|office))?))`)

	bareYear = regexp.MustCompile(`\b(?:((?i:since|in))\s+)?((?:19|20)\d{2})\b`)

	tenureClaim = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fifteen|twenty|thirty)\+?\s+years?\s+` +
		`(?:of\s+(?:[a-z]+\s+){0,2}(?:service|loyalty|banking|membership|custom|relationship)|with us|banking with us|as (?:a |our )?(?:valued |loyal )?(?:customer|member))`)

	historyClaim = regexp.MustCompile(`(?i)\b(?:as we (?:discussed|agreed|mentioned)|when we (?:last )?(?:spoke|met)|` +
		`during your (?:last |recent )?(?:visit|call|appointment)|following your (?:recent )?(?:visit|call|conversation)|` +
		`your recent (?:visit|call|conversation)|our recent conversation)\b`)

	namedRelative = regexp.MustCompile(`\b[Yy]our\s+(wife|husband|partner|son|daughter|mother|father|mum|dad)\s+([A-Z][a-z]+)`)
	relative      = regexp.MustCompile(`(?i)\byour\s+(wife|husband|son|daughter|children|kids|grandchildren)\b`)

	congratulations = regexp.MustCompile(`(?i)\bcongratulations on your (?:new |recent )?([a-z]+(?:\s+[a-z]+)?)`)
	embellishment   = regexp.MustCompile(`(?i)\b(?:as )?one of our (?:most valued|best|top|most loyal) customers\b`)

	salutation = regexp.MustCompile(`(?i)\b(?:dear|hi|hello)\s+$`)

	phoneSpan = regexp.MustCompile(`\b0\d{2,4}[\s-]?\d{3}[\s-]?\d{3,4}\b`)
)

// capitalized words that start sentences or salutations rather than names
var notNames = map[string]bool{
	"dear": true, "hi": true, "hello": true, "thank": true, "thanks": true, "please": true,
	"we": true, "you": true, "your": true, "the": true, "if": true, "as": true, "our": true,
	"this": true, "from": true, "kind": true, "regards": true, "best": true, "yours": true,
	"today": true, "customer": true, "team": true, "bank": true, "sincerely": true,
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8,
	"nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fifteen": 15, "twenty": 20, "thirty": 30,
}

// match is a finding anchored at a byte offset of the channel text
type match struct {
	start   int
	end     int
	finding models.HallucinationFinding
}

func newMatch(text string, start, end int, cat models.FindingCategory, sev models.Severity, conf float64, explanation, fix string) match {
	return match{
		start: start,
		end:   end,
		finding: models.HallucinationFinding{
			Text:         text[start:end],
			Context:      contextAround(text, start, end),
			Category:     cat,
			Severity:     sev,
			Confidence:   conf,
			Explanation:  explanation,
			SuggestedFix: fix,
		},
	}
}

// detectPatterns runs every rule over one channel text
func detectPatterns(text string, truth *TruthSet, years int, hasYears bool) []match {
	var out []match
	out = append(out, staffNames(text, truth)...)
	out = append(out, locations(text, truth)...)
	out = append(out, years4(text, truth)...)
	out = append(out, tenure(text, years, hasYears)...)
	out = append(out, history(text, truth)...)
	out = append(out, relationships(text, truth)...)
	out = append(out, amounts(text, truth)...)
	out = append(out, events(text, truth)...)
	return out
}

// cleanName strips capitalized non-name words from a captured name
func cleanName(name string) string {
	var kept []string
	for _, tok := range strings.Fields(name) {
		if !notNames[strings.ToLower(tok)] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

func staffNames(text string, truth *TruthSet) []match {
	var out []match

	for _, m := range roleThenName.FindAllStringSubmatchIndex(text, -1) {
		name := cleanName(text[m[6]:m[7]])
		if name == "" || truth.KnowsName(name) {
			continue
		}
		fix := "your " + sub(text, m, 1) + text[m[4]:m[5]]
		out = append(out, newMatch(text, m[0], m[1], models.FindingPersonName, models.SeverityHigh, 0.9,
			"Staff name '"+name+"' is not present in the customer profile or source document", fix))
	}

	for _, m := range nameThenRole.FindAllStringSubmatchIndex(text, -1) {
		name := cleanName(text[m[2]:m[3]])
		if name == "" || truth.KnowsName(name) {
			continue
		}
		// keep a salutation such as "Dear " out of the flagged span
		start := m[2] + strings.Index(text[m[2]:m[3]], strings.Fields(name)[0])
		out = append(out, newMatch(text, start, m[1], models.FindingPersonName, models.SeverityHigh, 0.9,
			"Staff name '"+name+"' is not present in the customer profile or source document", "your advisor"))
	}

	for _, m := range titleName.FindAllStringSubmatchIndex(text, -1) {
		name := cleanName(text[m[2]:m[3]])
		if name == "" || truth.KnowsName(name) {
			continue
		}
		fix := "our team"
		if salutation.MatchString(text[:m[0]]) {
			fix = "Customer"
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingPersonName, models.SeverityHigh, 0.9,
			"Named person '"+text[m[0]:m[1]]+"' is not present in the customer profile or source document", fix))
	}
	return out
}

func locations(text string, truth *TruthSet) []match {
	var out []match
	for _, re := range []*regexp.Regexp{branchName, streetName} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			place := text[m[4]:m[5]]
			if truth.Grounded(place) {
				continue
			}
			out = append(out, newMatch(text, m[2], m[3], models.FindingLocation, models.SeverityMedium, 0.85,
				"Location '"+place+"' is not mentioned in the source document or profile", "your local branch"))
		}
	}
	return out
}

func years4(text string, truth *TruthSet) []match {
	phones := phoneSpan.FindAllStringIndex(text, -1)
	var out []match
	for _, m := range bareYear.FindAllStringSubmatchIndex(text, -1) {
		year := text[m[4]:m[5]]
		if truth.KnowsYear(year) || within(phones, m[4]) || partOfNumber(text, m[4], m[5]) {
			continue
		}
		fix := ""
		switch strings.ToLower(sub(text, m, 1)) {
		case "since":
			fix = "for some time"
		case "in":
			fix = "previously"
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingDateTime, models.SeverityMedium, 0.7,
			"Year "+year+" does not appear in the source document or profile", fix))
	}
	return out
}

func tenure(text string, years int, hasYears bool) []match {
	var out []match
	for _, m := range tenureClaim.FindAllStringSubmatchIndex(text, -1) {
		claimed := parseCount(text[m[2]:m[3]])
		if hasYears && claimed == years {
			continue
		}
		explanation := "Tenure claim is not supported by the customer profile"
		if hasYears {
			explanation = "Tenure claim contradicts the profile, which records " + strconv.Itoa(years) + " years"
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingFact, models.SeverityHigh, 0.85,
			explanation, "loyalty"))
	}
	return out
}

func history(text string, truth *TruthSet) []match {
	var out []match
	for _, m := range historyClaim.FindAllStringIndex(text, -1) {
		if truth.Grounded(text[m[0]:m[1]]) {
			continue
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingHistorical, models.SeverityHigh, 0.8,
			"Claims a previous interaction that is not recorded in the profile", ""))
	}
	return out
}

func relationships(text string, truth *TruthSet) []match {
	var out []match
	named := namedRelative.FindAllStringSubmatchIndex(text, -1)
	for _, m := range named {
		name := text[m[4]:m[5]]
		if notNames[strings.ToLower(name)] || truth.KnowsName(name) {
			continue
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingRelationship, models.SeverityHigh, 0.85,
			"Names a family member who is not in the customer profile", "your family"))
	}
	for _, m := range relative.FindAllStringSubmatchIndex(text, -1) {
		if within(named, m[0]) {
			continue
		}
		who := strings.ToLower(text[m[2]:m[3]])
		if truth.ProfileMentions(who) || truth.ProfileMentions(strings.TrimSuffix(who, "ren")) {
			continue
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingRelationship, models.SeverityHigh, 0.8,
			"Refers to a family relationship the profile does not record", "your family"))
	}
	return out
}

func amounts(text string, truth *TruthSet) []match {
	var out []match
	for _, m := range amountPattern.FindAllStringIndex(text, -1) {
		if truth.KnowsAmount(text[m[0]:m[1]]) {
			continue
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingFinancial, models.SeverityHigh, 0.8,
			"Amount "+text[m[0]:m[1]]+" does not appear in the source document or profile", "the relevant amount"))
	}
	return out
}

func events(text string, truth *TruthSet) []match {
	var out []match
	for _, m := range congratulations.FindAllStringSubmatchIndex(text, -1) {
		event := strings.Fields(strings.ToLower(text[m[2]:m[3]]))
		grounded := false
		for _, w := range event {
			if len(w) > 3 && truth.Grounded(w) {
				grounded = true
				break
			}
		}
		if grounded {
			continue
		}
		out = append(out, newMatch(text, m[0], m[1], models.FindingEvent, models.SeverityMedium, 0.75,
			"Assumes a life event the profile does not record", ""))
	}
	for _, m := range embellishment.FindAllStringIndex(text, -1) {
		out = append(out, newMatch(text, m[0], m[1], models.FindingOther, models.SeverityLow, 0.6,
			"Overstates the customer's standing", "as a valued customer"))
	}
	return out
}

func sub(text string, m []int, group int) string {
	if 2*group+1 >= len(m) || m[2*group] < 0 {
		return ""
	}
	return text[m[2*group]:m[2*group+1]]
}

func within(spans [][]int, i int) bool {
	for _, s := range spans {
		if i >= s[0] && i < s[1] {
			return true
		}
	}
	return false
}

// partOfNumber rejects years embedded in amounts or decimals such as £2,025 or 2025.50
func partOfNumber(text string, start, end int) bool {
	for _, prefix := range []string{",", ".", "£", "$", "€"} {
		if strings.HasSuffix(text[:start], prefix) {
			return true
		}
	}
	if end+1 < len(text) && (text[end] == '.' || text[end] == ',') && text[end+1] >= '0' && text[end+1] <= '9' {
		return true
	}
	return false
}

func parseCount(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return numberWords[strings.ToLower(s)]
}

func contextAround(text string, start, end int) string {
	from := start - 100
	if from < 0 {
		from = 0
	}
	to := end + 100
	if to > len(text) {
		to = len(text)
	}
	// stay on rune boundaries
	for from > 0 && !isRuneStart(text[from]) {
		from--
	}
	for to < len(text) && !isRuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(text[from:to])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

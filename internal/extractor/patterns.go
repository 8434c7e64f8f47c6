package extractor

import "regexp"

const monthNames = `(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)`

var (
	numericDatePattern = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	// day-month, month-day and month-year forms; a bare month name never matches
	monthDatePattern = regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `\b(?:,?\s+\d{4}\b)?` +
		`|\b` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?\b(?:,?\s+\d{4}\b)?` +
		`|\b` + monthNames + `\s+\d{4}\b`)

	amountPattern     = regexp.MustCompile(`[£$€]\s*\d+(?:,\d{3})*(?:\.\d{1,2})?`)
	percentagePattern = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:%|per\s?cent\b)`)
	timePattern       = regexp.MustCompile(`(?i)\b(?:[01]?\d|2[0-3]):[0-5]\d\s?(?:am|pm)?\b|\b(?:1[0-2]|0?[1-9])\s?(?:am|pm)\b`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b0\d{3}\s?\d{3}\s?\d{4}\b`),
		regexp.MustCompile(`\b0800\s?\d{3}\s?\d{3,4}\b`),
	}
	urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s,;)]+|\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:co\.uk|com|org\.uk|org|uk|net)\b(?:/[^\s,;)]*)?`)

	sortCodePattern      = regexp.MustCompile(`(?i)sort code:?\s*(\d{2}-\d{2}-\d{2})`)
	accountEndingPattern = regexp.MustCompile(`(?i)account (?:number )?(?:ending (?:in )?)(?:\*+|x+)?(\d{4})\b`)

	actionPattern  = regexp.MustCompile(`(?i)\b(?:you (?:must|need to|should|will need to)|please|you are required to|it is important that you)\s+[^.!?\n]+`)
	featurePattern = regexp.MustCompile(`(?i)\byou can now\s+[^.!?\n]+`)
	newPattern     = regexp.MustCompile(`(?i)\b(?:introducing|now available|we have (?:launched|introduced|improved))\b[^.!?\n]*`)
	benefitPattern = regexp.MustCompile(`(?i)\byou(?: will|'ll) (?:benefit|receive|get|earn|save)\b[^.!?\n]*`)
	legalPattern   = regexp.MustCompile(`(?i)\b(?:terms and conditions|regulated by|financial conduct authority|financial ombudsman|financial services compensation scheme|fscs)\b[^.!?\n]*`)

	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]?`)
)

const closingPhrase = "thank you for banking with us"

// negativeMarkers identify points that describe the absence of something
var negativeMarkers = []string{
	"no change", "not affected", "nothing you need to do", "no action", "does not apply",
	"not mentioned", "no specific", "none mentioned",
}

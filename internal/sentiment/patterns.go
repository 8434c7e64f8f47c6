package sentiment

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"personalization-service/internal/models"
)

// PatternOnlyWarning is attached to every pattern-based audit
const PatternOnlyWarning = "Pattern-matching only - AI analysis recommended"

var (
	positiveWords = []string{"pleased", "happy", "delighted", "thank", "appreciate", "valued", "benefit", "opportunity", "welcome", "improve"}
	negativeWords = []string{"unfortunately", "regret", "sorry", "unable", "charge", "fee", "penalty", "decline", "increase", "terminate"}

	feePattern  = regexp.MustCompile(`(?i)\b(?:fees?|charges?|charged)\b`)
	feeCues     = []string{"because", "to cover", "reflects", "so that", "in order to", "this allows", "this means", "the reason", "helps us"}
	pressure    = []string{"act now", "guaranteed returns", "guaranteed return", "risk-free", "risk free", "limited time only", "don't miss out", "once in a lifetime", "before it's too late"}
	callPhrases = []string{"call us", "contact us", "you must", "required", "need to", "get in touch"}
	sentenceEnd = regexp.MustCompile(`[.!?]+`)
)

// patternAudit scores a text with word lists and fixed compliance checks.
// modelErr is the reason a configured model's result was not used, nil when no model is configured.
func patternAudit(text string, ac AuditContext, modelErr error) *models.SentimentAnalysisResult {
	lower := strings.ToLower(text)

	pos, neg := countPresent(lower, positiveWords), countPresent(lower, negativeWords)
	ratio := float64(pos-neg) / math.Max(1, float64(pos+neg))
	sentimentScore := clampInt(int(math.Round(ratio*100)), -100, 100)

	res := &models.SentimentAnalysisResult{
		DecisionState: models.StateAnalyzing,
		Sentiment: models.SentimentScore{
			Score:    sentimentScore,
			Category: sentimentCategory(sentimentScore),
			Why:      fmt.Sprintf("Found %d positive and %d negative tone markers.", pos, neg),
		},
		Compliance: models.ComplianceCheck{
			Status:       models.CompliancePass,
			Score:        85,
			TCFCompliant: true,
			Why:          "No unexplained charges or pressure selling language detected.",
		},
		ConfidenceScore: 0.6,
		ModelUsed:       modelPattern,
	}

	hasFee := feePattern.MatchString(text)
	feeExplained := hasFee && containsAny(lower, feeCues)
	switch {
	case hasFee && !feeExplained:
		res.RedFlags = append(res.RedFlags, models.ActionableInsight{
			Issue:    "Fee mentioned without explanation",
			Impact:   "Unexplained charges are a leading cause of complaints and calls",
			Fix:      "Explain why the fee applies and what the customer gets for it",
			Why:      "The message mentions a fee or charge but gives no reason for it.",
			Priority: models.SeverityHigh,
		})
		res.Compliance = models.ComplianceCheck{
			Status:       models.ComplianceWarning,
			Score:        65,
			TCFCompliant: true,
			Why:          "A charge is communicated without a justification, which weakens fair treatment of the customer.",
		}
	case feeExplained:
		res.Warnings = append(res.Warnings, models.ActionableInsight{
			Issue:    "Fee mentioned",
			Impact:   "Charges are sensitive even when explained",
			Fix:      "Keep the explanation close to the amount",
			Why:      "The message mentions a fee together with a reason.",
			Priority: models.SeverityMedium,
		})
	}

	if found := firstPresent(lower, pressure); found != "" {
		res.RedFlags = append(res.RedFlags, models.ActionableInsight{
			Issue:    "Pressure selling language",
			Impact:   "Urgency or guarantee claims breach financial promotion rules",
			Fix:      "Remove '" + found + "' and state the facts plainly",
			Why:      "The phrase '" + found + "' pressures the customer or promises an outcome.",
			Priority: models.SeverityHigh,
		})
		res.Compliance = models.ComplianceCheck{
			Status:       models.ComplianceFail,
			Score:        30,
			TCFCompliant: false,
			Why:          "Pressure or mis-selling language ('" + found + "') fails treating customers fairly.",
		}
	}

	words := len(strings.Fields(text))
	if words > 500 {
		res.Warnings = append(res.Warnings, models.ActionableInsight{
			Issue:    "Message is too long",
			Impact:   "Long messages are skimmed and key facts get missed",
			Fix:      "Cut the message below 500 words",
			Why:      fmt.Sprintf("The message has %d words.", words),
			Priority: models.SeverityMedium,
		})
	}

	if first := ac.Profile.FirstName(); first != "" && !strings.Contains(lower, strings.ToLower(first)) {
		res.Opportunities = append(res.Opportunities, models.ActionableInsight{
			Issue:    "Customer is not addressed by name",
			Impact:   "Named greetings read as personal rather than bulk mail",
			Fix:      "Open with the customer's first name",
			Why:      "The customer's name is known but never used.",
			Priority: models.SeverityLow,
		})
		if line := firstLine(text); greeting.MatchString(line) {
			res.QuickWins = append(res.QuickWins, models.QuickWin{
				Original: line,
				Improved: greeting.FindString(line) + " " + first + ",",
				Why:      "Using the customer's name makes the message feel written for them.",
			})
		}
	}

	res.LinguisticQuality = readability(text)
	res.CustomerImpact = impact(lower, res, neg > pos)

	fallback := models.ActionableInsight{
		Issue:    PatternOnlyWarning,
		Impact:   "Scores come from word lists, not a full reading of the message",
		Fix:      "Configure a model provider for a complete audit",
		Why:      "No model was available for this audit.",
		Priority: models.SeverityLow,
	}
	if modelErr != nil {
		fallback.Fix = "Retry the audit or check the model provider"
		fallback.Why = fmt.Sprintf("The model result could not be used: %v.", modelErr)
	}
	res.Warnings = append(res.Warnings, fallback)

	res.OverallScore = overall(res)
	res.ExecutiveSummary = fmt.Sprintf("Pattern-based review found %d red flag(s) and %d warning(s). Tone is %s and compliance is %s.",
		len(res.RedFlags), len(res.Warnings), res.Sentiment.Category, res.Compliance.Status)
	return res
}

var greeting = regexp.MustCompile(`^(?:Dear|Hi|Hello)\b`)

func readability(text string) models.LinguisticQuality {
	words := len(strings.Fields(text))
	sentences := 0
	for _, s := range sentenceEnd.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(words) / float64(sentences)

	q := models.LinguisticQuality{
		GradeLevel: clampInt(int(math.Round(avg*0.5)), 1, 18),
		Score:      clampInt(int(math.Round(100-math.Max(0, avg-15)*4)), 0, 100),
	}
	switch {
	case avg <= 15:
		q.Complexity = "simple"
	case avg <= 22:
		q.Complexity = "moderate"
	default:
		q.Complexity = "complex"
	}
	q.Why = fmt.Sprintf("Average sentence length is %.1f words across %d sentence(s).", avg, sentences)
	return q
}

func impact(lower string, res *models.SentimentAnalysisResult, negativeTone bool) models.CustomerImpact {
	ci := models.CustomerImpact{ComplaintRisk: "low", CallRisk: "low", EscalationRisk: "low"}
	var reasons []string

	switch {
	case len(res.RedFlags) > 0:
		ci.ComplaintRisk = "high"
		reasons = append(reasons, "red flags are present")
	case negativeTone:
		ci.ComplaintRisk = "medium"
		reasons = append(reasons, "the tone leans negative")
	}

	switch {
	case res.Compliance.Status == models.ComplianceWarning:
		ci.CallRisk = "high"
		reasons = append(reasons, "an unexplained charge will prompt questions")
	case containsAny(lower, callPhrases):
		ci.CallRisk = "medium"
		reasons = append(reasons, "the message asks the customer to act or get in touch")
	}

	switch {
	case res.Compliance.Status == models.ComplianceFail:
		ci.EscalationRisk = "high"
		reasons = append(reasons, "compliance failed")
	case ci.ComplaintRisk == "high":
		ci.EscalationRisk = "medium"
	}

	if len(reasons) == 0 {
		ci.Why = "Neutral content with no triggers for complaints or calls."
	} else {
		ci.Why = "Risk is raised because " + strings.Join(reasons, " and ") + "."
	}
	return ci
}

// overall blends tone, compliance and readability into [-100, 100]
func overall(res *models.SentimentAnalysisResult) int {
	score := 0.4*float64(res.Sentiment.Score) +
		0.3*float64(2*res.Compliance.Score-100) +
		0.3*float64(2*res.LinguisticQuality.Score-100)
	return clampInt(int(math.Round(score)), -100, 100)
}

func sentimentCategory(score int) string {
	switch {
	case score >= 30:
		return "positive"
	case score <= -30:
		return "negative"
	default:
		return "neutral"
	}
}

func countPresent(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}

func containsAny(s string, subs []string) bool {
	return firstPresent(s, subs) != ""
}

func firstPresent(s string, subs []string) string {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return sub
		}
	}
	return ""
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

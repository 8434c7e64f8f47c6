package refiner

import (
	"fmt"
	"strings"

	"personalization-service/internal/models"
)

func buildRefinementPrompt(original string, findings []models.HallucinationFinding, eligible []models.InferenceRule, rc Context) string {
	var issues strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&issues, "- Remove: '%s' | Reason: %s | Suggested: %s\n", f.Text, f.Explanation, f.SuggestedFix)
	}
	if issues.Len() == 0 {
		issues.WriteString("None identified\n")
	}

	var safe strings.Builder
	for i, inf := range eligible {
		if i == 5 {
			break
		}
		fmt.Fprintf(&safe, "- %s (confidence: %s)\n", inf.Inference, inf.Confidence)
	}
	if safe.Len() == 0 {
		safe.WriteString("None available\n")
	}

	name := rc.Profile.Name()
	if name == "" {
		name = "unknown"
	}

	return fmt.Sprintf(`You are refining a %s message to remove hallucinations while ENHANCING personalization.

ORIGINAL:
%s

ISSUES TO FIX (hallucinations to remove):
%s
SAFE INFERENCES YOU CAN ADD (use these EXACTLY or very close to exactly):
%s
CUSTOMER CONTEXT:
- Name: %s
- Life Stage: %s
- Segment: %s
- Financial Profile: %s
- Communication Style: %s

Rules:
1. Remove all hallucinated content (names, dates, facts not in evidence).
2. Include at least 2 of the safe inferences, keeping their key phrases intact, woven into existing sentences.
3. Preserve every date, amount, deadline and contact detail from the original.
4. Keep the same tone and the channel's format.
5. Do not introduce any new specific facts.

Return JSON:
{"refined_content": "complete refined message", "changes_made": ["..."], "inferences_added": ["exact text of inferences you included"]}`,
		rc.Channel, original, issues.String(), safe.String(), name,
		orUnknown(rc.Insights.LifeStage), orUnknown(rc.Insights.Segment),
		orUnknown(rc.Insights.FinancialProfile), orUnknown(rc.Insights.CommunicationStyle))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

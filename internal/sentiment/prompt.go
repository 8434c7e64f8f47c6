package sentiment

import (
	"fmt"
	"strings"
)

func buildAuditPrompt(text string, ac AuditContext) string {
	var unresolved strings.Builder
	for _, f := range ac.Findings {
		fmt.Fprintf(&unresolved, "- '%s' (%s, %s)\n", f.Text, f.Category, f.Severity)
	}
	if unresolved.Len() == 0 {
		unresolved.WriteString("None\n")
	}

	name := ac.Profile.Name()
	if name == "" {
		name = "unknown"
	}

	return fmt.Sprintf(`You are a UK banking communications compliance reviewer. Audit this %s message before it is sent.

MESSAGE:
%s

RECIPIENT:
- Name: %s
- Life Stage: %s
- Segment: %s

UNVERIFIED CLAIMS STILL IN THE MESSAGE:
%s
Assess tone, FCA Consumer Duty and treating customers fairly compliance, likely customer reaction and readability.
Every section MUST include a "why" explaining the score with evidence from the message.
Only use severity "high" for red flags that must stop the message being sent.

Return JSON:
{
  "overall_score": -100 to 100,
  "executive_summary": "one or two sentences",
  "sentiment": {"score": -100 to 100, "category": "positive|neutral|negative", "why": "..."},
  "compliance": {"status": "PASS|WARNING|FAIL", "score": 0-100, "tcf_compliant": true, "why": "..."},
  "customer_impact": {"complaint_risk": "low|medium|high", "call_risk": "low|medium|high", "escalation_risk": "low|medium|high", "why": "..."},
  "readability": {"score": 0-100, "grade_level": 8, "complexity": "simple|moderate|complex", "why": "..."},
  "red_flags": [{"issue": "...", "severity": "high|medium", "impact": "...", "fix": "...", "why_flagged": "..."}],
  "warnings": [{"issue": "...", "impact": "...", "fix": "...", "why_warning": "..."}],
  "strengths": [{"element": "...", "why_good": "..."}],
  "quick_wins": [{"original": "...", "improved": "...", "why": "..."}]
}`,
		ac.Channel, text, name, orUnknown(ac.Insights.LifeStage), orUnknown(ac.Insights.Segment), unresolved.String())
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

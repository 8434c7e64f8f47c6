package hallucination

import (
	"context"
	"fmt"
	"strings"

	"personalization-service/internal/llm"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"
)

type modelFinding struct {
	Text         string   `json:"text"`
	Context      string   `json:"context"`
	Category     string   `json:"category"`
	Severity     string   `json:"severity"`
	Confidence   *float64 `json:"confidence"`
	Explanation  string   `json:"explanation"`
	SuggestedFix string   `json:"suggested_fix"`
}

func (d *Detector) detectWithModel(ctx context.Context, text, source string, p profile.Profile, truth *TruthSet) ([]models.HallucinationFinding, error) {
	raw, err := d.generator.Generate(ctx, buildDetectionPrompt(text, source, p, truth), models.GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var parsed []modelFinding
	if err := llm.ExtractJSON(raw, &parsed); err != nil {
		// some models wrap the array in an object
		var wrapped struct {
			Findings []modelFinding `json:"findings"`
		}
		if werr := llm.ExtractJSON(raw, &wrapped); werr != nil {
			return nil, err
		}
		parsed = wrapped.Findings
	}

	lower := strings.ToLower(text)
	out := make([]models.HallucinationFinding, 0, len(parsed))
	for _, mf := range parsed {
		span := strings.TrimSpace(mf.Text)
		// a finding must point at text that is actually there
		idx := strings.Index(lower, strings.ToLower(span))
		if span == "" || idx < 0 || idx+len(span) > len(text) {
			continue
		}
		conf := 0.8
		if mf.Confidence != nil {
			conf = clamp01(*mf.Confidence)
		}
		f := models.HallucinationFinding{
			Text:         text[idx : idx+len(span)],
			Context:      mf.Context,
			Category:     models.ParseFindingCategory(mf.Category),
			Severity:     models.ParseSeverity(mf.Severity),
			Confidence:   conf,
			Explanation:  mf.Explanation,
			SuggestedFix: mf.SuggestedFix,
		}
		if f.Context == "" {
			f.Context = contextAround(text, idx, idx+len(span))
		}
		out = append(out, f)
	}
	return out, nil
}

func buildDetectionPrompt(text, source string, p profile.Profile, truth *TruthSet) string {
	var sb strings.Builder
	sb.WriteString("You are checking a personalized bank communication for hallucinations: statements that are not supported by the source letter or the customer profile.\n\n")
	sb.WriteString("SOURCE LETTER:\n")
	sb.WriteString(source)
	sb.WriteString("\n\nCUSTOMER PROFILE:\n")
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		fmt.Fprintf(&sb, "- %s: %s\n", k, v)
	}
	if dates := truth.Dates(); len(dates) > 0 {
		fmt.Fprintf(&sb, "\nDATES IN SOURCE: %s\n", strings.Join(dates, ", "))
	}
	sb.WriteString("\nGENERATED TEXT:\n")
	sb.WriteString(text)
	sb.WriteString(`

Flag every span that asserts something not derivable from the source or the profile:
- named staff or advisors, branch or location names, specific years or dates
- claims about the customer's tenure, history, previous conversations or family
- amounts that do not appear in the source or profile
Severity: HIGH for people, relationships and financial specifics; MEDIUM for locations and dates; LOW for minor embellishment.
Do not flag the customer's own name or anything copied from the source letter.

Return a JSON array, or [] when the text is faithful:
[{"text": "exact span", "category": "person_name|date_time|location|fact|event|relationship|financial|historical|other", "severity": "HIGH|MEDIUM|LOW", "confidence": 0.0, "explanation": "...", "suggested_fix": "generic replacement"}]`)
	return sb.String()
}

package models

import "strings"

// InferenceConfidence grades how universally a statement holds for a demographic
type InferenceConfidence string

const (
	InferenceHigh   InferenceConfidence = "HIGH"
	InferenceMedium InferenceConfidence = "MEDIUM"
	InferenceLow    InferenceConfidence = "LOW"
)

// ParseInferenceConfidence normalizes model output, unknown values become LOW
func ParseInferenceConfidence(s string) InferenceConfidence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return InferenceHigh
	case "MEDIUM":
		return InferenceMedium
	default:
		return InferenceLow
	}
}

// InferenceRule is a candidate safe personalization statement
type InferenceRule struct {
	Demographic string              `json:"demographic"`
	Inference   string              `json:"inference"`
	Confidence  InferenceConfidence `json:"confidence"`
	Category    string              `json:"category"`
}

// Eligible reports whether the rule may be applied automatically
func (r InferenceRule) Eligible() bool {
	return r.Confidence == InferenceHigh || r.Confidence == InferenceMedium
}

// RefinementMetrics compares a text before and after refinement
type RefinementMetrics struct {
	HallucinationsRemoved      int     `json:"hallucinations_removed"`
	InferencesAdded            int     `json:"inferences_added"`
	PersonalizationScoreBefore float64 `json:"personalization_score_before"`
	PersonalizationScoreAfter  float64 `json:"personalization_score_after"`
	QualityScoreBefore         float64 `json:"quality_score_before"`
	QualityScoreAfter          float64 `json:"quality_score_after"`
	WordCountBefore            int     `json:"word_count_before"`
	WordCountAfter             int     `json:"word_count_after"`
	GenerationMethod           string  `json:"generation_method"`
}

// Refinement methods
const (
	MethodAIRefinement       = "ai_refinement"
	MethodRuleBased          = "rule_based_refinement"
	MethodNoRefinementNeeded = "no_refinement_needed"
)

package models

import "strings"

// FindingCategory classifies a fabricated span
type FindingCategory string

const (
	FindingPersonName   FindingCategory = "person_name"
	FindingDateTime     FindingCategory = "date_time"
	FindingLocation     FindingCategory = "location"
	FindingFact         FindingCategory = "fact"
	FindingEvent        FindingCategory = "event"
	FindingRelationship FindingCategory = "relationship"
	FindingFinancial    FindingCategory = "financial"
	FindingHistorical   FindingCategory = "historical"
	FindingOther        FindingCategory = "other"
)

// ParseFindingCategory normalizes a category name, unknown values become FindingOther
func ParseFindingCategory(s string) FindingCategory {
	c := FindingCategory(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case FindingPersonName, FindingDateTime, FindingLocation, FindingFact, FindingEvent,
		FindingRelationship, FindingFinancial, FindingHistorical:
		return c
	}
	return FindingOther
}

// Severity is shared by findings and actionable insights
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// ParseSeverity normalizes severity text, "critical" folds into HIGH and unknown values into MEDIUM
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH", "CRITICAL":
		return SeverityHigh
	case "LOW":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Rank orders severities, lower is more severe
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// HallucinationFinding is a span of generated text not grounded in the truth set
type HallucinationFinding struct {
	Text         string          `json:"text"`
	Context      string          `json:"context"`
	Channel      Channel         `json:"channel"`
	Category     FindingCategory `json:"category"`
	Severity     Severity        `json:"severity"`
	Confidence   float64         `json:"confidence"`
	Explanation  string          `json:"explanation"`
	SuggestedFix string          `json:"suggested_fix"`
}

// ReportSummary is the derived overview of a report
type ReportSummary struct {
	TotalFindings int                     `json:"total_findings"`
	BySeverity    map[Severity]int        `json:"by_severity"`
	ByCategory    map[FindingCategory]int `json:"by_category"`
	ByChannel     map[Channel]int         `json:"by_channel"`
	RiskLevel     string                  `json:"risk_level"`
	Text          string                  `json:"text"`
}

// HallucinationReport aggregates findings over one detection run. It is not mutated after creation.
type HallucinationReport struct {
	Findings           []HallucinationFinding `json:"findings"`
	RiskScore          float64                `json:"risk_score"`
	Summary            ReportSummary          `json:"summary"`
	Recommendations    []string               `json:"recommendations"`
	AnalysisConfidence float64                `json:"analysis_confidence"`
	ModelUsed          string                 `json:"model_used"`
}

// FindingsForChannel returns the findings raised against one channel
func (r *HallucinationReport) FindingsForChannel(ch Channel) []HallucinationFinding {
	if r == nil {
		return nil
	}
	var out []HallucinationFinding
	for _, f := range r.Findings {
		if f.Channel == ch {
			out = append(out, f)
		}
	}
	return out
}

// BlockingFindings returns HIGH findings whose confidence reaches threshold
func BlockingFindings(findings []HallucinationFinding, threshold float64) []HallucinationFinding {
	var out []HallucinationFinding
	for _, f := range findings {
		if f.Severity == SeverityHigh && f.Confidence >= threshold {
			out = append(out, f)
		}
	}
	return out
}

package models

import "strings"

// Importance is the preservation tier of a key point
type Importance string

const (
	Critical   Importance = "CRITICAL"   // dates, amounts, legal obligations: required in every channel
	Important  Importance = "IMPORTANT"  // should appear where space allows
	Contextual Importance = "CONTEXTUAL" // best effort
)

// ParseImportance normalizes free text from a model response. Unknown values become Contextual.
func ParseImportance(s string) Importance {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return Critical
	case "IMPORTANT":
		return Important
	default:
		return Contextual
	}
}

// Rank orders tiers, lower is more important
func (i Importance) Rank() int {
	switch i {
	case Critical:
		return 0
	case Important:
		return 1
	default:
		return 2
	}
}

// Key point categories
const (
	CategoryDate        = "date"
	CategoryAmount      = "amount"
	CategoryPercentage  = "percentage"
	CategoryTime        = "time"
	CategoryDeadline    = "deadline"
	CategoryAction      = "action"
	CategoryContact     = "contact"
	CategoryFeature     = "feature"
	CategoryBenefit     = "benefit"
	CategoryLegal       = "legal"
	CategoryAccount     = "account"
	CategoryMainMessage = "main_message"
	CategoryClosing     = "closing"
	CategoryGeneral     = "general"
)

// KeyPoint is a fact extracted from a source document that generated content must preserve.
// Content is fixed at extraction; FoundInChannels is rewritten by every validation pass.
type KeyPoint struct {
	Content         string           `json:"content"`
	Importance      Importance       `json:"importance"`
	Category        string           `json:"category"`
	Explanation     string           `json:"explanation,omitempty"`
	FoundInChannels map[Channel]bool `json:"found_in_channels"`
}

// NewKeyPoint creates a key point with an empty channel map
func NewKeyPoint(content string, importance Importance, category, explanation string) KeyPoint {
	if category == "" {
		category = CategoryGeneral
	}
	return KeyPoint{
		Content:         strings.TrimSpace(content),
		Importance:      importance,
		Category:        strings.ToLower(category),
		Explanation:     explanation,
		FoundInChannels: make(map[Channel]bool),
	}
}

// ChannelCoverage is the per-channel part of a coverage summary
type ChannelCoverage struct {
	Found         int      `json:"found"`
	Total         int      `json:"total"`
	Percentage    float64  `json:"percentage"`
	RequiredFound int      `json:"required_found"`
	RequiredTotal int      `json:"required_total"`
	Issues        []string `json:"issues,omitempty"`
}

// CoverageSummary reports how well key points survived generation
type CoverageSummary struct {
	CriticalPreserved  int                         `json:"critical_preserved"`
	CriticalTotal      int                         `json:"critical_total"`
	TotalPreserved     int                         `json:"total_preserved"`
	TotalPoints        int                         `json:"total_points"`
	CoveragePercentage float64                     `json:"coverage_percentage"`
	ByChannel          map[Channel]ChannelCoverage `json:"by_channel"`
	CriticalMissing    []string                    `json:"critical_missing"`
	Status             string                      `json:"status"` // "success", "warning", "error"
	Method             string                      `json:"method"`
}

package models

import "sort"

// DecisionState is the send gate state of an audit
type DecisionState string

const (
	StateAnalyzing DecisionState = "ANALYZING"
	StatePass      DecisionState = "PASS"
	StateBlocked   DecisionState = "BLOCKED"
)

// ComplianceStatus is the regulatory verdict on a message
type ComplianceStatus string

const (
	CompliancePass    ComplianceStatus = "PASS"
	ComplianceWarning ComplianceStatus = "WARNING"
	ComplianceFail    ComplianceStatus = "FAIL"
)

// SentimentScore is the tone sub-result
type SentimentScore struct {
	Score    int    `json:"score"`    // -100..100
	Category string `json:"category"` // positive, neutral, negative
	Why      string `json:"why"`
}

// ComplianceCheck is the compliance sub-result
type ComplianceCheck struct {
	Status       ComplianceStatus `json:"status"`
	Score        int              `json:"score"` // 0..100
	TCFCompliant bool             `json:"tcf_compliant"`
	Why          string           `json:"why"`
}

// CustomerImpact predicts how the customer reacts
type CustomerImpact struct {
	ComplaintRisk  string `json:"complaint_risk"` // low, medium, high
	CallRisk       string `json:"call_risk"`
	EscalationRisk string `json:"escalation_risk"`
	Why            string `json:"why"`
}

// LinguisticQuality is the readability sub-result
type LinguisticQuality struct {
	Score      int    `json:"score"` // 0..100
	GradeLevel int    `json:"grade_level"`
	Complexity string `json:"complexity"` // simple, moderate, complex
	Why        string `json:"why"`
}

// ActionableInsight is a red flag, warning or opportunity
type ActionableInsight struct {
	Issue    string   `json:"issue"`
	Impact   string   `json:"impact"`
	Fix      string   `json:"fix"`
	Why      string   `json:"why"`
	Priority Severity `json:"priority"`
}

// QuickWin is an advisory rewrite, never applied automatically
type QuickWin struct {
	Original string `json:"original"`
	Improved string `json:"improved"`
	Why      string `json:"why"`
}

// SentimentAnalysisResult is the final audit verdict for one message
type SentimentAnalysisResult struct {
	OverallScore      int                 `json:"overall_score"`
	ReadyToSend       bool                `json:"ready_to_send"`
	DecisionState     DecisionState       `json:"decision_state"`
	ExecutiveSummary  string              `json:"executive_summary"`
	Sentiment         SentimentScore      `json:"sentiment_score"`
	Compliance        ComplianceCheck     `json:"compliance_check"`
	CustomerImpact    CustomerImpact      `json:"customer_impact"`
	LinguisticQuality LinguisticQuality   `json:"linguistic_quality"`
	RedFlags          []ActionableInsight `json:"red_flags"`
	Warnings          []ActionableInsight `json:"warnings"`
	Opportunities     []ActionableInsight `json:"opportunities"`
	QuickWins         []QuickWin          `json:"quick_wins"`
	ConfidenceScore   float64             `json:"confidence_score"`
	ModelUsed         string              `json:"model_used"`
	WordCount         int                 `json:"word_count"`
}

// SortInsights orders insights HIGH first, keeping the relative order of equal priorities
func SortInsights(insights []ActionableInsight) {
	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Priority.Rank() < insights[j].Priority.Rank()
	})
}

// Gate recomputes ReadyToSend and DecisionState from red flags and compliance
func (r *SentimentAnalysisResult) Gate() {
	r.ReadyToSend = len(r.RedFlags) == 0 && r.Compliance.Status != ComplianceFail
	if r.ReadyToSend {
		r.DecisionState = StatePass
	} else {
		r.DecisionState = StateBlocked
	}
}

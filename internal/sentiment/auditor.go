package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"

	"go.uber.org/zap"
)

const (
	modelPattern = "pattern_matching"
	modelError   = "error"
)

// Config tunes the send gate
type Config struct {
	// BlockingThreshold is the minimum confidence of an unresolved HIGH finding that blocks sending
	BlockingThreshold float64 `yaml:"blocking_threshold"`
}

// DefaultConfig returns a blocking threshold of 0.7
func DefaultConfig() Config {
	return Config{BlockingThreshold: 0.7}
}

func (c Config) withDefaults() Config {
	if c.BlockingThreshold <= 0 {
		c.BlockingThreshold = DefaultConfig().BlockingThreshold
	}
	return c
}

// AuditContext is what the auditor knows about the recipient and the message
type AuditContext struct {
	Profile  profile.Profile
	Insights profile.Insights
	Channel  models.Channel
	// Findings are hallucinations still present in the audited text
	Findings []models.HallucinationFinding
}

// Auditor scores a final message and decides whether it may be sent
type Auditor struct {
	generator llm.TextGenerator
	useModel  bool
	cfg       Config
	logger    *zap.Logger
}

// NewAuditor creates an auditor. A nil generator selects the pattern audit.
func NewAuditor(generator llm.TextGenerator, cfg Config, logger *zap.Logger) *Auditor {
	return &Auditor{
		generator: generator,
		useModel:  generator != nil,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Audit always returns a result. Any internal failure yields a blocked result.
func (a *Auditor) Audit(ctx context.Context, text string, ac AuditContext) (res *models.SentimentAnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Sentiment audit panicked",
				zap.String("channel", string(ac.Channel)),
				zap.Any("panic", r))
			res = errorResult(fmt.Errorf("audit panicked: %v", r), text)
			a.record(ac.Channel, res)
		}
	}()

	var modelErr error
	if a.useModel {
		res, modelErr = a.auditWithModel(ctx, text, ac)
		if modelErr != nil {
			a.logger.Warn("Model audit failed, using patterns",
				zap.String("channel", string(ac.Channel)),
				zap.Error(modelErr))
			metrics.Fallback("sentiment", "model_failed")
			res = nil
		}
	}
	if res == nil {
		res = patternAudit(text, ac, modelErr)
	}

	a.finalize(text, ac, res)
	a.record(ac.Channel, res)
	return res
}

// finalize applies the checks that never depend on the model, then gates
func (a *Auditor) finalize(text string, ac AuditContext, res *models.SentimentAnalysisResult) {
	blocking := models.BlockingFindings(ac.Findings, a.cfg.BlockingThreshold)
	isBlocking := make(map[string]bool, len(blocking))
	for _, f := range blocking {
		isBlocking[f.Text] = true
		res.RedFlags = append(res.RedFlags, findingInsight(f, models.SeverityHigh))
	}
	for _, f := range ac.Findings {
		if !isBlocking[f.Text] {
			res.Warnings = append(res.Warnings, findingInsight(f, models.SeverityMedium))
		}
	}

	if found := firstPresent(strings.ToLower(text), pressure); found != "" && res.Compliance.Status != models.ComplianceFail {
		res.Compliance.Status = models.ComplianceFail
		res.Compliance.TCFCompliant = false
		res.Compliance.Why = strings.TrimSpace(res.Compliance.Why + " Contains pressure selling language ('" + found + "').")
	}

	if res.RedFlags == nil {
		res.RedFlags = []models.ActionableInsight{}
	}
	if res.Warnings == nil {
		res.Warnings = []models.ActionableInsight{}
	}
	if res.Opportunities == nil {
		res.Opportunities = []models.ActionableInsight{}
	}
	if res.QuickWins == nil {
		res.QuickWins = []models.QuickWin{}
	}
	models.SortInsights(res.RedFlags)
	models.SortInsights(res.Warnings)
	models.SortInsights(res.Opportunities)

	res.OverallScore = clampInt(res.OverallScore, -100, 100)
	res.WordCount = len(strings.Fields(text))
	res.Gate()
}

func (a *Auditor) record(ch models.Channel, res *models.SentimentAnalysisResult) {
	metrics.DecisionsTotal.WithLabelValues(string(ch), string(res.DecisionState)).Inc()
	a.logger.Info("Sentiment audit completed",
		zap.String("channel", string(ch)),
		zap.String("decision", string(res.DecisionState)),
		zap.Int("overall_score", res.OverallScore),
		zap.Int("red_flags", len(res.RedFlags)),
		zap.String("model", res.ModelUsed))
}

func findingInsight(f models.HallucinationFinding, priority models.Severity) models.ActionableInsight {
	fix := f.SuggestedFix
	if fix == "" {
		fix = "Remove the claim"
	} else {
		fix = "Replace with '" + fix + "'"
	}
	why := f.Explanation
	if why == "" {
		why = "The claim is not supported by the customer record or the source message."
	}
	return models.ActionableInsight{
		Issue:    fmt.Sprintf("Unverified %s: %q", strings.ReplaceAll(string(f.Category), "_", " "), f.Text),
		Impact:   "Sending unverified claims misleads the customer",
		Fix:      fix,
		Why:      why,
		Priority: priority,
	}
}

// errorResult is the minimal blocked verdict used when an audit cannot complete
func errorResult(err error, text string) *models.SentimentAnalysisResult {
	why := "Audit could not be completed: " + err.Error()
	res := &models.SentimentAnalysisResult{
		ExecutiveSummary: "The audit failed. Review this message manually before sending.",
		Sentiment:        models.SentimentScore{Category: "neutral", Why: why},
		Compliance:       models.ComplianceCheck{Status: models.ComplianceFail, Why: why},
		CustomerImpact:   models.CustomerImpact{ComplaintRisk: "high", CallRisk: "high", EscalationRisk: "high", Why: why},
		LinguisticQuality: models.LinguisticQuality{Complexity: "moderate", Why: why},
		RedFlags: []models.ActionableInsight{{
			Issue:    "Audit failed",
			Impact:   "The message has not been verified",
			Fix:      "Review manually before sending",
			Why:      err.Error(),
			Priority: models.SeverityHigh,
		}},
		Warnings:        []models.ActionableInsight{},
		Opportunities:   []models.ActionableInsight{},
		QuickWins:       []models.QuickWin{},
		ConfidenceScore: 0,
		ModelUsed:       modelError,
		WordCount:       len(strings.Fields(text)),
	}
	res.Gate()
	return res
}

var errMissingWhy = errors.New("model audit is missing an explanation")

type modelInsight struct {
	Issue      string `json:"issue"`
	Severity   string `json:"severity"`
	Priority   string `json:"priority"`
	Impact     string `json:"impact"`
	Fix        string `json:"fix"`
	Why        string `json:"why"`
	WhyFlagged string `json:"why_flagged"`
	WhyWarning string `json:"why_warning"`
}

func (m modelInsight) insight(def models.Severity) models.ActionableInsight {
	sev := def
	if s := firstNonEmpty(m.Severity, m.Priority); s != "" {
		sev = models.ParseSeverity(s)
	}
	return models.ActionableInsight{
		Issue:    m.Issue,
		Impact:   m.Impact,
		Fix:      m.Fix,
		Why:      firstNonEmpty(m.Why, m.WhyFlagged, m.WhyWarning),
		Priority: sev,
	}
}

type modelAudit struct {
	OverallScore     float64 `json:"overall_score"`
	ExecutiveSummary string  `json:"executive_summary"`
	Sentiment        struct {
		Score    float64 `json:"score"`
		Category string  `json:"category"`
		Why      string  `json:"why"`
	} `json:"sentiment"`
	Compliance struct {
		Status       string  `json:"status"`
		Score        float64 `json:"score"`
		TCFCompliant bool    `json:"tcf_compliant"`
		Why          string  `json:"why"`
	} `json:"compliance"`
	CustomerImpact struct {
		ComplaintRisk  interface{} `json:"complaint_risk"`
		CallRisk       interface{} `json:"call_risk"`
		EscalationRisk interface{} `json:"escalation_risk"`
		Why            string      `json:"why"`
	} `json:"customer_impact"`
	Readability struct {
		Score      float64 `json:"score"`
		GradeLevel float64 `json:"grade_level"`
		Complexity string  `json:"complexity"`
		Why        string  `json:"why"`
	} `json:"readability"`
	RedFlags      []modelInsight `json:"red_flags"`
	Warnings      []modelInsight `json:"warnings"`
	Opportunities []modelInsight `json:"opportunities"`
	Strengths     []struct {
		Element string `json:"element"`
		WhyGood string `json:"why_good"`
	} `json:"strengths"`
	QuickWins []models.QuickWin `json:"quick_wins"`
}

func (a *Auditor) auditWithModel(ctx context.Context, text string, ac AuditContext) (*models.SentimentAnalysisResult, error) {
	raw, err := a.generator.Generate(ctx, buildAuditPrompt(text, ac), models.GenerateOptions{
		Temperature: 0.3,
		MaxTokens:   3000,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var m modelAudit
	if err := llm.ExtractJSON(raw, &m); err != nil {
		return nil, err
	}
	for name, why := range map[string]string{
		"sentiment":       m.Sentiment.Why,
		"compliance":      m.Compliance.Why,
		"customer_impact": m.CustomerImpact.Why,
		"readability":     m.Readability.Why,
	} {
		if strings.TrimSpace(why) == "" {
			return nil, fmt.Errorf("%w: %s", errMissingWhy, name)
		}
	}

	status := models.ComplianceStatus(strings.ToUpper(strings.TrimSpace(m.Compliance.Status)))
	switch status {
	case models.CompliancePass, models.ComplianceWarning, models.ComplianceFail:
	default:
		status = models.ComplianceWarning
	}

	sentimentScore := clampInt(int(m.Sentiment.Score), -100, 100)
	category := strings.ToLower(strings.TrimSpace(m.Sentiment.Category))
	if category != "positive" && category != "negative" && category != "neutral" {
		category = sentimentCategory(sentimentScore)
	}

	res := &models.SentimentAnalysisResult{
		OverallScore:     int(m.OverallScore),
		DecisionState:    models.StateAnalyzing,
		ExecutiveSummary: m.ExecutiveSummary,
		Sentiment:        models.SentimentScore{Score: sentimentScore, Category: category, Why: m.Sentiment.Why},
		Compliance: models.ComplianceCheck{
			Status:       status,
			Score:        clampInt(int(m.Compliance.Score), 0, 100),
			TCFCompliant: m.Compliance.TCFCompliant && status != models.ComplianceFail,
			Why:          m.Compliance.Why,
		},
		CustomerImpact: models.CustomerImpact{
			ComplaintRisk:  riskLevel(m.CustomerImpact.ComplaintRisk),
			CallRisk:       riskLevel(m.CustomerImpact.CallRisk),
			EscalationRisk: riskLevel(m.CustomerImpact.EscalationRisk),
			Why:            m.CustomerImpact.Why,
		},
		LinguisticQuality: models.LinguisticQuality{
			Score:      clampInt(int(m.Readability.Score), 0, 100),
			GradeLevel: int(m.Readability.GradeLevel),
			Complexity: m.Readability.Complexity,
			Why:        m.Readability.Why,
		},
		QuickWins:       m.QuickWins,
		ConfidenceScore: 0.85,
		ModelUsed:       llm.ModelName(a.generator),
	}

	// only HIGH red flags block; the rest are downgraded to warnings
	for _, rf := range m.RedFlags {
		in := rf.insight(models.SeverityHigh)
		if in.Priority == models.SeverityHigh {
			res.RedFlags = append(res.RedFlags, in)
		} else {
			res.Warnings = append(res.Warnings, in)
		}
	}
	for _, w := range m.Warnings {
		res.Warnings = append(res.Warnings, w.insight(models.SeverityMedium))
	}
	for _, o := range m.Opportunities {
		res.Opportunities = append(res.Opportunities, o.insight(models.SeverityLow))
	}
	for _, s := range m.Strengths {
		if s.Element == "" {
			continue
		}
		res.Opportunities = append(res.Opportunities, models.ActionableInsight{
			Issue:    "Keep: " + s.Element,
			Why:      s.WhyGood,
			Priority: models.SeverityLow,
		})
	}
	return res, nil
}

// riskLevel accepts a low/medium/high label or a 0..100 percentage
func riskLevel(v interface{}) string {
	switch t := v.(type) {
	case float64:
		switch {
		case t > 66:
			return "high"
		case t >= 34:
			return "medium"
		default:
			return "low"
		}
	case string:
		switch s := strings.ToLower(strings.TrimSpace(t)); s {
		case "low", "medium", "high":
			return s
		}
	}
	return "medium"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

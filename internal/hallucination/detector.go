package hallucination

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"

	"go.uber.org/zap"
)

// MethodPattern is reported as model_used when no model took part
const MethodPattern = "pattern_matching"

// Config holds the risk score calibration
type Config struct {
	HighWeight   float64 `yaml:"high_weight"`
	MediumWeight float64 `yaml:"medium_weight"`
	LowWeight    float64 `yaml:"low_weight"`
	Divisor      float64 `yaml:"divisor"`
}

// DefaultConfig returns the standard weights 1.0, 0.5, 0.2 over a divisor of 10
func DefaultConfig() Config {
	return Config{HighWeight: 1.0, MediumWeight: 0.5, LowWeight: 0.2, Divisor: 10}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HighWeight <= 0 {
		c.HighWeight = d.HighWeight
	}
	if c.MediumWeight <= 0 {
		c.MediumWeight = d.MediumWeight
	}
	if c.LowWeight <= 0 {
		c.LowWeight = d.LowWeight
	}
	if c.Divisor <= 0 {
		c.Divisor = d.Divisor
	}
	return c
}

func (c Config) weight(s models.Severity) float64 {
	switch s {
	case models.SeverityHigh:
		return c.HighWeight
	case models.SeverityMedium:
		return c.MediumWeight
	default:
		return c.LowWeight
	}
}

// Detector flags generated spans that are not grounded in the source document or profile
type Detector struct {
	generator llm.TextGenerator
	useModel  bool
	cfg       Config
	logger    *zap.Logger
}

// NewDetector creates a detector. A nil generator selects the pattern rules only.
func NewDetector(generator llm.TextGenerator, cfg Config, logger *zap.Logger) *Detector {
	return &Detector{
		generator: generator,
		useModel:  generator != nil,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Detect analyzes every channel text and builds one report
func (d *Detector) Detect(ctx context.Context, generated map[models.Channel]string, source string, p profile.Profile) *models.HallucinationReport {
	truth := NewTruthSet(source, p)
	years, hasYears := p.Int(profile.FieldYearsWithBank)

	var findings []models.HallucinationFinding
	modelChannels, patternChannels := 0, 0

	for _, ch := range models.AllChannels {
		text, ok := generated[ch]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}

		var channelFindings []models.HallucinationFinding
		usedModel := false
		if d.useModel {
			got, err := d.detectWithModel(ctx, text, source, p, truth)
			if err == nil {
				channelFindings = got
				usedModel = true
			} else {
				d.logger.Warn("Model detection failed, using pattern rules",
					zap.String("channel", string(ch)),
					zap.Error(err))
				metrics.Fallback("hallucination", "model_failed")
			}
		}
		if !usedModel {
			channelFindings = fromMatches(detectPatterns(text, truth, years, hasYears))
			patternChannels++
		} else {
			modelChannels++
		}

		for _, f := range dedupe(channelFindings) {
			f.Channel = ch
			findings = append(findings, f)
		}
	}

	report := d.buildReport(findings)
	switch {
	case modelChannels > 0 && patternChannels == 0:
		report.ModelUsed = llm.ModelName(d.generator)
		report.AnalysisConfidence = 0.85
	case modelChannels > 0:
		report.ModelUsed = llm.ModelName(d.generator) + "+" + MethodPattern
		report.AnalysisConfidence = 0.7
	default:
		report.ModelUsed = MethodPattern
		report.AnalysisConfidence = 0.5
	}

	for _, f := range report.Findings {
		metrics.FindingsTotal.WithLabelValues(string(f.Category), string(f.Severity)).Inc()
	}
	d.logger.Info("Hallucination detection completed",
		zap.Int("findings", len(report.Findings)),
		zap.Float64("risk_score", report.RiskScore),
		zap.String("model_used", report.ModelUsed))
	return report
}

// RiskScore is min(1, Σ weight(severity)·confidence / divisor)
func RiskScore(findings []models.HallucinationFinding, cfg Config) float64 {
	cfg = cfg.withDefaults()
	total := 0.0
	for _, f := range findings {
		total += cfg.weight(f.Severity) * clamp01(f.Confidence)
	}
	return math.Min(1.0, total/cfg.Divisor)
}

func fromMatches(ms []match) []models.HallucinationFinding {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].start < ms[j].start })
	out := make([]models.HallucinationFinding, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.finding)
	}
	return out
}

func dedupe(findings []models.HallucinationFinding) []models.HallucinationFinding {
	seen := make(map[string]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		key := strings.ToLower(strings.TrimSpace(f.Text))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func (d *Detector) buildReport(findings []models.HallucinationFinding) *models.HallucinationReport {
	if findings == nil {
		findings = []models.HallucinationFinding{}
	}
	report := &models.HallucinationReport{
		Findings:  findings,
		RiskScore: RiskScore(findings, d.cfg),
	}
	report.Summary = summarize(findings, report.RiskScore)
	report.Recommendations = recommendations(findings)
	return report
}

func summarize(findings []models.HallucinationFinding, risk float64) models.ReportSummary {
	s := models.ReportSummary{
		TotalFindings: len(findings),
		BySeverity:    make(map[models.Severity]int),
		ByCategory:    make(map[models.FindingCategory]int),
		ByChannel:     make(map[models.Channel]int),
		RiskLevel:     riskLevel(risk),
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
		s.ByChannel[f.Channel]++
	}

	if len(findings) == 0 {
		s.Text = "No hallucinations detected. Content appears to be faithful to source data."
		return s
	}
	s.Text = fmt.Sprintf("Detected %d potential hallucination(s) with %s overall risk (%.0f%%). High: %d, Medium: %d, Low: %d.",
		len(findings), s.RiskLevel, risk*100,
		s.BySeverity[models.SeverityHigh], s.BySeverity[models.SeverityMedium], s.BySeverity[models.SeverityLow])
	return s
}

func riskLevel(risk float64) string {
	switch {
	case risk > 0.7:
		return "HIGH"
	case risk > 0.4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

var categoryAdvice = []struct {
	category models.FindingCategory
	text     string
}{
	{models.FindingPersonName, "Avoid using specific staff names unless verified in source data. Use generic terms like 'your advisor' or 'our team'."},
	{models.FindingLocation, "Remove specific branch or location names unless they appear in the source document. Use 'your local branch' instead."},
	{models.FindingDateTime, "Verify all dates and years against the source document. Prefer relative terms like 'recently' when no date is given."},
	{models.FindingFact, "Only include customer facts present in the profile. Do not assume tenure, products, or history."},
	{models.FindingEvent, "Do not assume or invent life events. Only reference events recorded in the customer profile."},
	{models.FindingRelationship, "Do not mention family members or personal relationships that are not recorded in the profile."},
	{models.FindingFinancial, "Every amount must come from the source document or the customer's account data."},
	{models.FindingHistorical, "Do not claim previous conversations or visits unless they are recorded in the customer history."},
}

func recommendations(findings []models.HallucinationFinding) []string {
	present := make(map[models.FindingCategory]bool)
	high := false
	for _, f := range findings {
		present[f.Category] = true
		if f.Severity == models.SeverityHigh {
			high = true
		}
	}

	out := []string{}
	for _, a := range categoryAdvice {
		if present[a.category] {
			out = append(out, a.text)
		}
	}
	if len(findings) > 5 {
		out = append(out, "Consider adjusting AI prompts to reduce creative embellishment and regenerating the content.")
	}
	if high {
		out = append(out, "HIGH PRIORITY: Review and fix all high-severity hallucinations before sending communications.")
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

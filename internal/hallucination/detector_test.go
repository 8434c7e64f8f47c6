package hallucination

import (
	"context"
	"errors"
	"strings"
	"testing"

	"personalization-service/internal/models"
	"personalization-service/internal/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	response string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ models.GenerateOptions) (string, error) {
	return f.response, f.err
}

const feeLetter = "Your account fee is £5 effective March 1st. Call 0345 300 0000 for questions."

func findCategory(findings []models.HallucinationFinding, cat models.FindingCategory) (models.HallucinationFinding, bool) {
	for _, f := range findings {
		if f.Category == cat {
			return f, true
		}
	}
	return models.HallucinationFinding{}, false
}

func TestDetect_AdvisorAndTenureScenario(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())
	p := profile.New(map[string]interface{}{"name": "Sam Taylor", "age": 34})

	report := d.Detect(context.Background(), map[models.Channel]string{
		models.Email: "Dear Sam,\nYour account manager, James Wilson, noted your 10 years of excellent service. " +
			"From March 1st the fee is £5.",
	}, feeLetter, p)

	name, ok := findCategory(report.Findings, models.FindingPersonName)
	require.True(t, ok, "no person_name finding: %+v", report.Findings)
	assert.Contains(t, name.Text, "James Wilson")
	assert.Equal(t, models.SeverityHigh, name.Severity)
	assert.Equal(t, models.Email, name.Channel)
	assert.Equal(t, "your account manager", name.SuggestedFix)

	tenure, ok := findCategory(report.Findings, models.FindingFact)
	require.True(t, ok, "no tenure finding: %+v", report.Findings)
	assert.Equal(t, "10 years of excellent service", tenure.Text)
	assert.Equal(t, models.SeverityHigh, tenure.Severity)

	_, ok = findCategory(report.Findings, models.FindingFinancial)
	assert.False(t, ok, "£5 is in the source letter")

	assert.Equal(t, MethodPattern, report.ModelUsed)
	assert.InDelta(t, 0.5, report.AnalysisConfidence, 0.001)
	assert.Contains(t, report.Recommendations[0], "your advisor")
	assert.Contains(t, report.Recommendations[len(report.Recommendations)-1], "HIGH PRIORITY")
}

func TestDetect_GroundedContentIsClean(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())
	p := profile.New(map[string]interface{}{
		"name":             "Mr Sam Taylor",
		"years_with_bank":  10,
		"advisor_name":     "James Wilson",
		"account_balance":  "£2,500",
		"preferred_branch": "Camden",
	})

	report := d.Detect(context.Background(), map[models.Channel]string{
		models.Email: "Dear Mr Taylor,\nYour advisor, James Wilson, thanks you for 10 years with us. " +
			"Your balance of £2,500 is unaffected. Visit our Camden branch any time. The fee is £5 from March 1st.",
		models.SMS: "Hi Sam, your fee is £5 from March 1st.",
	}, feeLetter, p)

	assert.Empty(t, report.Findings)
	assert.Zero(t, report.RiskScore)
	assert.Equal(t, "No hallucinations detected. Content appears to be faithful to source data.", report.Summary.Text)
	assert.Empty(t, report.Recommendations)
}

func TestDetect_PatternRules(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())
	p := profile.New(map[string]interface{}{"name": "Sam Taylor"})

	tests := []struct {
		name     string
		text     string
		category models.FindingCategory
		severity models.Severity
		span     string
	}{
		{"title name", "Please contact Mrs Patel about the change.", models.FindingPersonName, models.SeverityHigh, "Mrs Patel"},
		{"name then role", "Regards, Priya, your personal banker", models.FindingPersonName, models.SeverityHigh, "Priya, your personal banker"},
		{"branch", "Visit our Camden branch to find out more.", models.FindingLocation, models.SeverityMedium, "our Camden branch"},
		{"street", "Pop in at our High Street office.", models.FindingLocation, models.SeverityMedium, "our High Street office"},
		{"year", "Since 2015 you have trusted us.", models.FindingDateTime, models.SeverityMedium, "Since 2015"},
		{"history", "As we discussed, the fee applies soon.", models.FindingHistorical, models.SeverityHigh, "As we discussed"},
		{"named relative", "We hope your wife Sarah enjoys the app.", models.FindingRelationship, models.SeverityHigh, "your wife Sarah"},
		{"amount", "You could earn £300 cashback.", models.FindingFinancial, models.SeverityHigh, "£300"},
		{"embellishment", "As one of our most valued customers you get early access.", models.FindingOther, models.SeverityLow, "As one of our most valued customers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := d.Detect(context.Background(), map[models.Channel]string{models.Letter: tt.text}, feeLetter, p)
			f, ok := findCategory(report.Findings, tt.category)
			require.True(t, ok, "findings: %+v", report.Findings)
			assert.Equal(t, tt.severity, f.Severity)
			assert.Equal(t, tt.span, f.Text)
			assert.NotEmpty(t, f.Context)
		})
	}
}

func TestDetect_TitleNameFixFitsSalutation(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())

	tests := map[string]struct {
		text string
		fix  string
	}{
		"dear":         {"Dear Mrs Smith,\nYour card is on its way.", "Customer"},
		"hello":        {"Hello Mr Jones, your card is on its way.", "Customer"},
		"mid sentence": {"Please contact Mrs Patel about the change.", "our team"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			report := d.Detect(context.Background(), map[models.Channel]string{models.Letter: tt.text}, feeLetter, profile.New(nil))
			f, ok := findCategory(report.Findings, models.FindingPersonName)
			require.True(t, ok, "findings: %+v", report.Findings)
			assert.Equal(t, tt.fix, f.SuggestedFix)
		})
	}
}

func TestDetect_IgnoresNumbersThatAreNotYears(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())
	report := d.Detect(context.Background(), map[models.Channel]string{
		models.Email: "Call 0345 300 2020 or quote reference 12345.",
	}, feeLetter, profile.New(nil))

	_, ok := findCategory(report.Findings, models.FindingDateTime)
	assert.False(t, ok, "findings: %+v", report.Findings)
}

func TestDetect_DedupesPerChannel(t *testing.T) {
	d := NewDetector(nil, DefaultConfig(), zap.NewNop())
	text := "Mrs Patel will call. Mrs Patel looks forward to it."

	report := d.Detect(context.Background(), map[models.Channel]string{
		models.Email:  text,
		models.Letter: text,
	}, feeLetter, profile.New(nil))

	assert.Len(t, report.FindingsForChannel(models.Email), 1)
	assert.Len(t, report.FindingsForChannel(models.Letter), 1)
	assert.Equal(t, 2, report.Summary.ByCategory[models.FindingPersonName])
}

func TestDetect_ModelFindingsUsed(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n[" +
		`{"text": "James Wilson", "category": "PERSON_NAME", "severity": "critical", "confidence": 1.4, "explanation": "not in profile"},` +
		`{"text": "Bob from accounts", "category": "person_name", "severity": "HIGH"},` +
		`{"text": "last Tuesday", "category": "made_up", "severity": "low"},` +
		"]\n```"}
	d := NewDetector(gen, DefaultConfig(), zap.NewNop())

	report := d.Detect(context.Background(), map[models.Channel]string{
		models.Email: "James Wilson called you last Tuesday.",
	}, feeLetter, profile.New(nil))

	require.Len(t, report.Findings, 2)
	assert.Equal(t, models.FindingPersonName, report.Findings[0].Category)
	assert.Equal(t, models.SeverityHigh, report.Findings[0].Severity)
	assert.Equal(t, 1.0, report.Findings[0].Confidence)
	assert.Equal(t, models.FindingOther, report.Findings[1].Category)
	assert.Equal(t, 0.8, report.Findings[1].Confidence)
	assert.InDelta(t, 0.85, report.AnalysisConfidence, 0.001)
	assert.NotEqual(t, MethodPattern, report.ModelUsed)
}

func TestDetect_ModelFailureFallsBack(t *testing.T) {
	d := NewDetector(&fakeGenerator{err: errors.New("quota exceeded")}, DefaultConfig(), zap.NewNop())

	report := d.Detect(context.Background(), map[models.Channel]string{
		models.Email: "Your advisor, James Wilson, will be in touch.",
	}, feeLetter, profile.New(nil))

	assert.Equal(t, MethodPattern, report.ModelUsed)
	_, ok := findCategory(report.Findings, models.FindingPersonName)
	assert.True(t, ok)
}

func TestRiskScore_Bounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Zero(t, RiskScore(nil, cfg))

	many := make([]models.HallucinationFinding, 25)
	for i := range many {
		many[i] = models.HallucinationFinding{Severity: models.SeverityHigh, Confidence: 1.0}
	}
	assert.Equal(t, 1.0, RiskScore(many, cfg))

	weird := []models.HallucinationFinding{{Severity: models.SeverityHigh, Confidence: 7}, {Severity: models.SeverityLow, Confidence: -3}}
	score := RiskScore(weird, cfg)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestRiskScore_Formula(t *testing.T) {
	findings := []models.HallucinationFinding{
		{Severity: models.SeverityHigh, Confidence: 0.9},
		{Severity: models.SeverityMedium, Confidence: 0.8},
		{Severity: models.SeverityLow, Confidence: 0.5},
	}
	// (0.9 + 0.4 + 0.1) / 10
	assert.InDelta(t, 0.14, RiskScore(findings, DefaultConfig()), 1e-9)
	assert.InDelta(t, 0.28, RiskScore(findings, Config{Divisor: 5}), 1e-9)
}

func TestRiskScore_MonotonicInConfidence(t *testing.T) {
	cfg := DefaultConfig()
	full := make([]models.HallucinationFinding, 4)
	for i := range full {
		full[i] = models.HallucinationFinding{Severity: models.SeverityHigh, Confidence: 1.0}
	}
	top := RiskScore(full, cfg)

	for mask := 1; mask < 1<<len(full); mask++ {
		lowered := make([]models.HallucinationFinding, len(full))
		copy(lowered, full)
		for i := range lowered {
			if mask&(1<<i) != 0 {
				lowered[i].Confidence = 0.3
			}
		}
		assert.GreaterOrEqual(t, top, RiskScore(lowered, cfg))
	}

	// adding a finding never lowers the score
	assert.GreaterOrEqual(t, RiskScore(append(full, models.HallucinationFinding{Severity: models.SeverityLow, Confidence: 0.1}), cfg), top)
}

func TestSummary_RiskLevels(t *testing.T) {
	assert.Equal(t, "HIGH", riskLevel(0.8))
	assert.Equal(t, "MEDIUM", riskLevel(0.5))
	assert.Equal(t, "LOW", riskLevel(0.4))

	s := summarize([]models.HallucinationFinding{{Severity: models.SeverityHigh, Confidence: 1, Channel: models.SMS}}, 0.1)
	assert.True(t, strings.HasPrefix(s.Text, "Detected 1 potential hallucination(s) with LOW overall risk (10%)"))
	assert.Equal(t, 1, s.ByChannel[models.SMS])
}

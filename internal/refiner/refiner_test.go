package refiner

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
	calls    int
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ models.GenerateOptions) (string, error) {
	f.calls++
	return f.response, f.err
}

var (
	student   = models.InferenceRule{Demographic: "student", Inference: "Managing finances during your studies", Confidence: models.InferenceHigh, Category: "lifestyle"}
	universal = models.InferenceRule{Demographic: "general", Inference: "We value your relationship with us", Confidence: models.InferenceHigh, Category: "emotional"}
	lowConf   = models.InferenceRule{Demographic: "premium", Inference: "Making your savings work harder for you", Confidence: models.InferenceLow, Category: "financial"}
)

const advisorEmail = "Dear Sam,\nYour account manager, James Wilson, noted your 10 years of excellent service.\nYour fee is £5 from March 1st."

func advisorFindings() []models.HallucinationFinding {
	return []models.HallucinationFinding{
		{Text: "Your account manager, James Wilson", Category: models.FindingPersonName, Severity: models.SeverityHigh, Confidence: 0.9, SuggestedFix: "your account manager"},
		{Text: "10 years of excellent service", Category: models.FindingFact, Severity: models.SeverityHigh, Confidence: 0.85, SuggestedFix: "loyalty"},
		{Text: "not in this text", Category: models.FindingOther, Severity: models.SeverityLow, Confidence: 0.5},
	}
}

func studentContext() Context {
	p := profile.New(map[string]interface{}{"name": "Sam Taylor", "life_stage": "student"})
	return Context{Profile: p, Insights: profile.Derive(p), Channel: models.Email}
}

func TestRefine_NoOpIsIdempotent(t *testing.T) {
	texts := []string{"", "Dear Sam,\nNothing changes.", advisorEmail}
	for _, gen := range []*fakeGenerator{nil, {response: `{"refined_content": "something else"}`}} {
		var r *Refiner
		if gen == nil {
			r = NewRefiner(nil, DefaultConfig(), zap.NewNop())
		} else {
			r = NewRefiner(gen, DefaultConfig(), zap.NewNop())
		}
		for _, text := range texts {
			res := r.Refine(context.Background(), text, nil, nil, studentContext())
			assert.Equal(t, text, res.RefinedText)
			assert.Zero(t, res.Metrics.HallucinationsRemoved)
			assert.Zero(t, res.Metrics.InferencesAdded)
			assert.Empty(t, res.AppliedInferences)
			assert.Equal(t, models.MethodNoRefinementNeeded, res.Metrics.GenerationMethod)
			assert.Equal(t, res.Metrics.QualityScoreBefore, res.Metrics.QualityScoreAfter)
			assert.Equal(t, res.Metrics.WordCountBefore, res.Metrics.WordCountAfter)
		}
		if gen != nil {
			assert.Zero(t, gen.calls)
		}
	}
}

func TestRefine_RuleBased(t *testing.T) {
	r := NewRefiner(nil, DefaultConfig(), zap.NewNop())

	res := r.Refine(context.Background(), advisorEmail, advisorFindings(), []models.InferenceRule{lowConf, student, universal}, studentContext())

	assert.NotContains(t, res.RefinedText, "James Wilson")
	assert.NotContains(t, res.RefinedText, "10 years")
	assert.Contains(t, res.RefinedText, "\nYour account manager noted your loyalty.\n")
	assert.True(t, strings.HasPrefix(res.RefinedText, "Dear Sam,\n\nManaging finances during your studies.\n\n"), res.RefinedText)
	assert.Contains(t, res.RefinedText, "£5 from March 1st")

	assert.Equal(t, models.MethodRuleBased, res.Metrics.GenerationMethod)
	assert.Equal(t, 2, res.Metrics.HallucinationsRemoved)
	assert.Len(t, res.AppliedFindings, 2)
	require.Len(t, res.AppliedInferences, 1)
	assert.Equal(t, student, res.AppliedInferences[0])
	assert.Equal(t, len(res.AppliedInferences), res.Metrics.InferencesAdded)

	undiscounted := QualityScore(res.RefinedText, Elements(res.RefinedText, studentContext().Profile, []models.InferenceRule{student, universal}), true)
	assert.InDelta(t, undiscounted*0.9, res.Metrics.QualityScoreAfter, 1e-9)
	assert.Greater(t, res.Metrics.WordCountAfter, 0)
}

func TestRefine_RuleBasedRemovesEmptyFix(t *testing.T) {
	r := NewRefiner(nil, DefaultConfig(), zap.NewNop())
	findings := []models.HallucinationFinding{{Text: "As we discussed", Severity: models.SeverityHigh, Confidence: 0.8}}

	res := r.Refine(context.Background(), "Hi Sam,\nAs we discussed, your fee is £5.", findings, nil, studentContext())

	assert.Equal(t, "Hi Sam,\nYour fee is £5.", res.RefinedText)
	assert.Equal(t, 1, res.Metrics.HallucinationsRemoved)
}

func TestRefine_RuleBasedKeepsLayout(t *testing.T) {
	ctx := studentContext()
	ctx.Channel = models.Letter

	tests := map[string]struct {
		text     string
		findings []models.HallucinationFinding
		want     string
	}{
		"removal opens a paragraph": {
			text:     "Dear Sam,\n\nAs we discussed, your new card is on its way.",
			findings: []models.HallucinationFinding{{Text: "As we discussed", Severity: models.SeverityHigh, Confidence: 0.8}},
			want:     "Dear Sam,\n\nYour new card is on its way.",
		},
		"appositive name": {
			text:     "Dear Sam,\nYour advisor, Jo Bloggs, will call you.",
			findings: []models.HallucinationFinding{{Text: "Your advisor, Jo Bloggs", Severity: models.SeverityHigh, Confidence: 0.9, SuggestedFix: "your advisor"}},
			want:     "Dear Sam,\nYour advisor will call you.",
		},
		"name before role": {
			text:     "Dear Sam,\nJo Bloggs, your advisor, will call you.",
			findings: []models.HallucinationFinding{{Text: "Jo Bloggs, your advisor", Severity: models.SeverityHigh, Confidence: 0.9, SuggestedFix: "your advisor"}},
			want:     "Dear Sam,\nYour advisor will call you.",
		},
		"comma after a plain span stays": {
			text:     "Dear Sam,\nOn 1 June, your rate changes.",
			findings: []models.HallucinationFinding{{Text: "1 June", Severity: models.SeverityMedium, Confidence: 0.8, SuggestedFix: "the stated date"}},
			want:     "Dear Sam,\nOn the stated date, your rate changes.",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyFixes(tt.text, tt.findings))
		})
	}
}

func TestRefine_RuleBasedWithoutGreetingAddsNothing(t *testing.T) {
	r := NewRefiner(nil, DefaultConfig(), zap.NewNop())
	ctx := studentContext()
	ctx.Channel = models.SMS

	res := r.Refine(context.Background(), "Fee update: £5 from March 1st.", nil, []models.InferenceRule{student}, ctx)

	assert.Equal(t, "Fee update: £5 from March 1st.", res.RefinedText)
	assert.Zero(t, res.Metrics.InferencesAdded)
	assert.Empty(t, res.AppliedInferences)
}

func TestRefine_ModelPathVerifiesInferences(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n" + `{
		"refined_content": "Dear Sam,\nWhile managing finances during your studies, your account manager, James Wilson, has one update.\nWe truly appreciate you being with us.\nYour fee is £5 from March 1st.",
		"changes_made": ["removed tenure claim"],
		"inferences_added": ["Managing finances during your studies", "We value your relationship with us"]
	}` + "\n```"}
	r := NewRefiner(gen, DefaultConfig(), zap.NewNop())

	res := r.Refine(context.Background(), advisorEmail, advisorFindings(), []models.InferenceRule{student, universal}, studentContext())

	assert.Equal(t, models.MethodAIRefinement, res.Metrics.GenerationMethod)
	// the model claimed two inferences but only one is verifiable
	require.Len(t, res.AppliedInferences, 1)
	assert.Equal(t, student, res.AppliedInferences[0])
	assert.Equal(t, 1, res.Metrics.InferencesAdded)

	// the span the model kept is fixed by the safety pass
	assert.NotContains(t, res.RefinedText, "James Wilson")
	assert.Equal(t, 2, res.Metrics.HallucinationsRemoved)
	assert.Equal(t, []string{"removed tenure claim"}, res.ChangesMade)
}

func TestRefine_ModelFailureFallsBack(t *testing.T) {
	for name, gen := range map[string]*fakeGenerator{
		"error":   {err: errors.New("rate limit")},
		"garbage": {response: "I cannot help with that"},
		"empty":   {response: `{"refined_content": "  "}`},
	} {
		t.Run(name, func(t *testing.T) {
			r := NewRefiner(gen, DefaultConfig(), zap.NewNop())
			res := r.Refine(context.Background(), advisorEmail, advisorFindings(), []models.InferenceRule{student}, studentContext())
			assert.Equal(t, models.MethodRuleBased, res.Metrics.GenerationMethod)
			assert.Equal(t, len(res.AppliedInferences), res.Metrics.InferencesAdded)
		})
	}
}

func TestRefine_ModelBreakingChannelRulesFallsBack(t *testing.T) {
	gen := &fakeGenerator{response: `{"refined_content": "` + strings.Repeat("Managing finances during your studies. ", 20) + `"}`}
	r := NewRefiner(gen, DefaultConfig(), zap.NewNop())
	ctx := studentContext()
	ctx.Channel = models.SMS

	res := r.Refine(context.Background(), "As we discussed, your fee is £5.", []models.HallucinationFinding{{Text: "As we discussed"}}, nil, ctx)

	assert.Equal(t, models.MethodRuleBased, res.Metrics.GenerationMethod)
	assert.LessOrEqual(t, len([]rune(res.RefinedText)), models.MaxSMSLength)
}

func TestRefine_SkipsExcellentText(t *testing.T) {
	p := profile.New(map[string]interface{}{"name": "Sam Taylor", "life_stage": "student", "city": "Manchester"})
	ctx := Context{Profile: p, Insights: profile.Derive(p), Channel: models.Email}
	text := "Dear Sam Taylor,\n" + strings.Repeat("As a student in Manchester you can now manage your account from the app. ", 5)

	r := NewRefiner(&fakeGenerator{response: `{"refined_content": "rewritten"}`}, DefaultConfig(), zap.NewNop())
	res := r.Refine(context.Background(), text, nil, []models.InferenceRule{universal}, ctx)

	require.Greater(t, res.Metrics.QualityScoreBefore, 0.85)
	assert.Equal(t, text, res.RefinedText)
	assert.Equal(t, models.MethodNoRefinementNeeded, res.Metrics.GenerationMethod)
}

func TestRefine_InferenceCountAlwaysMatches(t *testing.T) {
	responses := []string{
		`{"refined_content": "Dear Sam, we value your relationship with us."}`,
		`{"refined_content": "Dear Sam, during your studies we value your custom."}`,
		`{"refined_content": "Dear Sam, nothing to see."}`,
		`not json`,
	}
	for _, resp := range responses {
		r := NewRefiner(&fakeGenerator{response: resp}, DefaultConfig(), zap.NewNop())
		res := r.Refine(context.Background(), advisorEmail, advisorFindings(), []models.InferenceRule{student, universal, lowConf}, studentContext())
		assert.Equal(t, len(res.AppliedInferences), res.Metrics.InferencesAdded, resp)
		for _, inf := range res.AppliedInferences {
			assert.True(t, Verify(inf, res.RefinedText))
			assert.True(t, inf.Eligible())
		}
	}
}

func TestVerify(t *testing.T) {
	assert.True(t, Verify(student, "Whether you are managing finances during your studies or not"))
	assert.True(t, Verify(student, "Support for finances during your time at university"))
	assert.True(t, Verify(universal, "Thank you for your relationship with us."))
	assert.False(t, Verify(universal, "We value your feedback."))
	assert.False(t, Verify(models.InferenceRule{}, "anything"))
}

func TestScores(t *testing.T) {
	assert.InDelta(t, 0.3, PersonalizationScore("", 0), 1e-9)
	assert.InDelta(t, 0.43, PersonalizationScore("you your you", 2), 1e-9)
	assert.InDelta(t, 0.34, PersonalizationScore("We value and appreciate it", 0), 1e-9)
	assert.InDelta(t, 1.0, PersonalizationScore(strings.Repeat("you ", 50)+"understand appreciate value important matter", 20), 1e-9)

	assert.InDelta(t, 0.7, QualityScore("short", 0, true), 1e-9)
	assert.InDelta(t, 0.6, QualityScore("short", 3, false), 1e-9)
	assert.InDelta(t, 1.0, QualityScore(strings.Repeat("word ", 60), 5, true), 1e-9)
}

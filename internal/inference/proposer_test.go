package inference

import (
	"context"
	"errors"
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

func TestPropose_StudentFallback(t *testing.T) {
	prof := profile.New(map[string]interface{}{"life_stage": "student"})
	p := NewProposer(nil, zap.NewNop())

	rules := p.Propose(context.Background(), prof, profile.Derive(prof))

	require.GreaterOrEqual(t, len(rules), 2)
	assert.Equal(t, "Managing finances during your studies", rules[0].Inference)
	assert.Equal(t, models.InferenceHigh, rules[0].Confidence)
	assert.Equal(t, Universal, rules[len(rules)-1])
}

func TestPropose_LifeStageSpellings(t *testing.T) {
	p := NewProposer(nil, zap.NewNop())
	for raw, want := range map[string]string{
		"retired":            "Making the most of your retirement",
		"young professional": "Building strong financial foundations early in your career",
	} {
		t.Run(raw, func(t *testing.T) {
			prof := profile.New(map[string]interface{}{"life_stage": raw})
			rules := p.Propose(context.Background(), prof, profile.Derive(prof))

			require.GreaterOrEqual(t, len(rules), 2)
			assert.Equal(t, want, rules[0].Inference)
		})
	}
}

func TestFallback_Buckets(t *testing.T) {
	rules := Fallback(profile.Insights{
		LifeStage:        profile.LifeStageRetirement,
		DigitalPersona:   profile.PersonaTraditional,
		FinancialProfile: profile.FinancialPremium,
	})

	require.Len(t, rules, 4)
	assert.Equal(t, "Making the most of your retirement", rules[0].Inference)
	assert.Equal(t, models.InferenceMedium, rules[1].Confidence)
	assert.Equal(t, models.InferenceLow, rules[2].Confidence)
	assert.False(t, rules[2].Eligible())
	assert.Len(t, Eligible(rules), 3)

	assert.Equal(t, []models.InferenceRule{Universal}, Fallback(profile.Insights{}))
}

func TestFallback_AllStatementsAreSafe(t *testing.T) {
	empty := profile.New(nil)
	all := []models.InferenceRule{Universal}
	for _, set := range []map[string]models.InferenceRule{lifeStageRules, personaRules, financialRules} {
		for _, r := range set {
			all = append(all, r)
		}
	}
	for _, r := range all {
		ok, reason := IsSafe(r.Inference, empty)
		assert.True(t, ok, "%q rejected: %s", r.Inference, reason)
	}
}

func TestIsSafe(t *testing.T) {
	prof := profile.New(map[string]interface{}{"name": "Sam Taylor"})
	tests := []struct {
		statement string
		safe      bool
	}{
		{"Managing finances during your studies", true},
		{"Thanks for being with us, Sam", true},
		{"You may be planning ahead", true},
		{"Celebrating 10 years together", false},
		{"Your £2,000 savings goal", false},
		{"Ready for your March holiday", false},
		{"Mrs Patel is here to help", false},
		{"Pop into your local branch", false},
		{"As we discussed on the phone", false},
		{"Your wife will love this", false},
		{"Enjoying life in Manchester", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.statement, func(t *testing.T) {
			ok, _ := IsSafe(tt.statement, prof)
			assert.Equal(t, tt.safe, ok)
		})
	}
}

func TestPropose_ModelCandidatesGuarded(t *testing.T) {
	gen := &fakeGenerator{response: `Sure! [
		{"demographic": "young_professional", "inference": "Growing your savings as your career develops", "confidence": "high", "category": "financial"},
		{"demographic": "young_professional", "inference": "Your new flat in Leeds", "confidence": "high", "category": "lifestyle"},
		{"demographic": "young_professional", "inference": "Saving 20% of your salary", "confidence": "medium", "category": "financial"},
		{"demographic": "young_professional", "inference": "Busy weeks that leave little time for admin", "category": "lifestyle"},
		{"demographic": "young_professional", "inference": "Treating yourself now and then", "confidence": "maybe", "category": "lifestyle"}
	]`}
	prof := profile.New(map[string]interface{}{"age": 28})
	p := NewProposer(gen, zap.NewNop())

	rules := p.Propose(context.Background(), prof, profile.Derive(prof))

	require.Len(t, rules, 3)
	assert.Equal(t, "Growing your savings as your career develops", rules[0].Inference)
	assert.Equal(t, models.InferenceHigh, rules[0].Confidence)
	assert.Equal(t, models.InferenceMedium, rules[1].Confidence, "missing confidence defaults to MEDIUM")
	assert.Equal(t, models.InferenceLow, rules[2].Confidence, "unknown confidence becomes LOW")
}

func TestPropose_TopsUpFromFallback(t *testing.T) {
	gen := &fakeGenerator{response: `[{"inference": "Your account manager Tom says hello", "confidence": "HIGH"}]`}
	prof := profile.New(map[string]interface{}{"employment_status": "Student", "digital_logins_per_month": 30})
	p := NewProposer(gen, zap.NewNop())

	rules := p.Propose(context.Background(), prof, profile.Derive(prof))

	inferences := make([]string, 0, len(rules))
	for _, r := range rules {
		inferences = append(inferences, r.Inference)
	}
	assert.Equal(t, []string{
		"Managing finances during your studies",
		"Managing your money on the go with our app",
		Universal.Inference,
	}, inferences)
}

func TestPropose_ModelErrorFallsBack(t *testing.T) {
	prof := profile.New(map[string]interface{}{"life_stage": "student"})
	p := NewProposer(&fakeGenerator{err: errors.New("timeout")}, zap.NewNop())

	rules := p.Propose(context.Background(), prof, profile.Derive(prof))
	assert.Equal(t, Fallback(profile.Derive(prof)), rules)
}

func TestPropose_CapsAtFive(t *testing.T) {
	gen := &fakeGenerator{response: `[
		{"inference": "Making everyday banking simple", "confidence": "HIGH"},
		{"inference": "Keeping on top of regular bills", "confidence": "HIGH"},
		{"inference": "Having flexible ways to pay", "confidence": "HIGH"},
		{"inference": "Looking for good value", "confidence": "HIGH"},
		{"inference": "Wanting clear information", "confidence": "HIGH"},
		{"inference": "Appreciating quick answers", "confidence": "HIGH"}
	]`}
	p := NewProposer(gen, zap.NewNop())

	rules := p.Propose(context.Background(), profile.New(nil), profile.Insights{})
	assert.Len(t, rules, 5)
}

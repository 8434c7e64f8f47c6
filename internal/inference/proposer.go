package inference

import (
	"context"
	"fmt"
	"strings"

	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"

	"go.uber.org/zap"
)

const (
	minInferences = 3
	maxInferences = 5
)

// Universal is proposed for every customer
var Universal = models.InferenceRule{
	Demographic: "general",
	Inference:   "We value your relationship with us",
	Confidence:  models.InferenceHigh,
	Category:    "emotional",
}

var lifeStageRules = map[string]models.InferenceRule{
	profile.LifeStageStudent:           {Demographic: "student", Inference: "Managing finances during your studies", Confidence: models.InferenceHigh, Category: "lifestyle"},
	profile.LifeStageYoungProfessional: {Demographic: "young_professional", Inference: "Building strong financial foundations early in your career", Confidence: models.InferenceHigh, Category: "financial"},
	profile.LifeStageYoungFamily:       {Demographic: "young_family", Inference: "Planning for your family's financial future", Confidence: models.InferenceHigh, Category: "financial"},
	profile.LifeStageEstablished:       {Demographic: "established", Inference: "Balancing everyday spending with longer term plans", Confidence: models.InferenceHigh, Category: "financial"},
	profile.LifeStagePreRetirement:     {Demographic: "pre_retirement", Inference: "Planning ahead for the retirement you want", Confidence: models.InferenceHigh, Category: "financial"},
	profile.LifeStageRetirement:        {Demographic: "retiree", Inference: "Making the most of your retirement", Confidence: models.InferenceHigh, Category: "lifestyle"},
}

var personaRules = map[string]models.InferenceRule{
	profile.PersonaAppNative:   {Demographic: "app_native", Inference: "Managing your money on the go with our app", Confidence: models.InferenceMedium, Category: "behavioral"},
	profile.PersonaHybrid:      {Demographic: "hybrid_user", Inference: "Banking in whichever way suits you best", Confidence: models.InferenceMedium, Category: "behavioral"},
	profile.PersonaTraditional: {Demographic: "traditional_preferred", Inference: "Knowing there is help available when you need it", Confidence: models.InferenceMedium, Category: "emotional"},
}

var financialRules = map[string]models.InferenceRule{
	profile.FinancialPremium:  {Demographic: "premium", Inference: "Making your savings work harder for you", Confidence: models.InferenceLow, Category: "financial"},
	profile.FinancialStandard: {Demographic: "standard_saver", Inference: "Keeping your savings goals on track", Confidence: models.InferenceLow, Category: "financial"},
	profile.FinancialBudget:   {Demographic: "budget_conscious", Inference: "Keeping a close eye on everyday costs", Confidence: models.InferenceLow, Category: "financial"},
}

// Proposer produces demographic statements that are safe to weave into a message
type Proposer struct {
	generator llm.TextGenerator
	useModel  bool
	logger    *zap.Logger
}

// NewProposer creates a proposer. A nil generator selects the canned statements only.
func NewProposer(generator llm.TextGenerator, logger *zap.Logger) *Proposer {
	return &Proposer{
		generator: generator,
		useModel:  generator != nil,
		logger:    logger,
	}
}

// Propose returns up to five inference rules. Every rule passes the specificity guard.
func (p *Proposer) Propose(ctx context.Context, prof profile.Profile, ins profile.Insights) []models.InferenceRule {
	if !p.useModel {
		return Fallback(ins)
	}

	candidates, err := p.proposeWithModel(ctx, prof, ins)
	if err != nil {
		p.logger.Warn("Model inference generation failed, using canned statements", zap.Error(err))
		metrics.Fallback("inference", "model_failed")
		return Fallback(ins)
	}

	var out []models.InferenceRule
	seen := make(map[string]bool)
	add := func(r models.InferenceRule) {
		key := strings.ToLower(strings.TrimSpace(r.Inference))
		if key == "" || seen[key] || len(out) >= maxInferences {
			return
		}
		seen[key] = true
		out = append(out, r)
	}

	for _, c := range candidates {
		if ok, reason := IsSafe(c.Inference, prof); !ok {
			p.logger.Info("Rejected specific inference",
				zap.String("inference", c.Inference),
				zap.String("reason", reason))
			continue
		}
		add(c)
	}
	if len(out) < minInferences {
		for _, r := range Fallback(ins) {
			add(r)
		}
	}
	return out
}

// Fallback maps insight buckets to canned statements, ending with Universal
func Fallback(ins profile.Insights) []models.InferenceRule {
	var out []models.InferenceRule
	if r, ok := lifeStageRules[ins.LifeStage]; ok {
		out = append(out, r)
	}
	if r, ok := personaRules[ins.DigitalPersona]; ok {
		out = append(out, r)
	}
	if r, ok := financialRules[ins.FinancialProfile]; ok {
		out = append(out, r)
	}
	return append(out, Universal)
}

// Eligible filters rules that may be applied automatically
func Eligible(rules []models.InferenceRule) []models.InferenceRule {
	var out []models.InferenceRule
	for _, r := range rules {
		if r.Eligible() {
			out = append(out, r)
		}
	}
	return out
}

type modelRule struct {
	Demographic string `json:"demographic"`
	Inference   string `json:"inference"`
	Confidence  string `json:"confidence"`
	Category    string `json:"category"`
}

func (p *Proposer) proposeWithModel(ctx context.Context, prof profile.Profile, ins profile.Insights) ([]models.InferenceRule, error) {
	raw, err := p.generator.Generate(ctx, buildInferencePrompt(prof, ins), models.GenerateOptions{
		Temperature: 0.4,
		MaxTokens:   1500,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var parsed []modelRule
	if err := llm.ExtractJSON(raw, &parsed); err != nil {
		return nil, err
	}

	out := make([]models.InferenceRule, 0, len(parsed))
	for _, m := range parsed {
		r := models.InferenceRule{
			Demographic: m.Demographic,
			Inference:   strings.TrimSpace(m.Inference),
			Confidence:  models.InferenceMedium,
			Category:    m.Category,
		}
		if strings.TrimSpace(m.Confidence) != "" {
			r.Confidence = models.ParseInferenceConfidence(m.Confidence)
		}
		if r.Demographic == "" {
			r.Demographic = "general"
		}
		if r.Category == "" {
			r.Category = "general"
		}
		out = append(out, r)
	}
	return out, nil
}

func buildInferencePrompt(prof profile.Profile, ins profile.Insights) string {
	field := func(key string) string {
		if v, ok := prof.Get(key); ok {
			return v
		}
		return "unknown"
	}
	or := func(v string) string {
		if v == "" {
			return "unknown"
		}
		return v
	}

	return fmt.Sprintf(`You are analyzing a customer to make SAFE demographic inferences for personalization.

CUSTOMER DATA:
- Age: %s
- Life Stage: %s
- Financial Profile: %s
- Digital Persona: %s
- Recent Life Events: %s
- Employment: %s

Generate SAFE inferences that are:
1. Based on demographic patterns, not specific facts
2. Broadly applicable to people in this situation
3. Respectful and not presumptuous
4. Free of names, numbers, dates, places and claims about past conversations

Confidence:
- HIGH: nearly universal for this demographic
- MEDIUM: common but not universal
- LOW: possible but use carefully

Return 3-5 inferences as a JSON array:
[{"demographic": "...", "inference": "short phrase", "confidence": "HIGH|MEDIUM|LOW", "category": "financial|lifestyle|behavioral|emotional"}]`,
		field(profile.FieldAge), or(ins.LifeStage), or(ins.FinancialProfile), or(ins.DigitalPersona),
		field(profile.FieldRecentLifeEvents), field(profile.FieldEmployment))
}

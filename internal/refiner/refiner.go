package refiner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"

	"go.uber.org/zap"
)

// Config tunes refinement
type Config struct {
	// ExcellentThreshold skips refinement of finding-free text scoring above it
	ExcellentThreshold float64 `yaml:"excellent_threshold"`
	// FallbackDiscount scales the rule-based quality_score_after
	FallbackDiscount float64 `yaml:"fallback_discount"`
}

// DefaultConfig returns threshold 0.85 and discount 0.9
func DefaultConfig() Config {
	return Config{ExcellentThreshold: 0.85, FallbackDiscount: 0.9}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExcellentThreshold <= 0 {
		c.ExcellentThreshold = d.ExcellentThreshold
	}
	if c.FallbackDiscount <= 0 {
		c.FallbackDiscount = d.FallbackDiscount
	}
	return c
}

// Context is the customer context a refinement runs in
type Context struct {
	Profile  profile.Profile
	Insights profile.Insights
	Channel  models.Channel
}

// Result is the outcome of one refinement
type Result struct {
	RefinedText       string                        `json:"refined_text"`
	Metrics           models.RefinementMetrics      `json:"metrics"`
	AppliedFindings   []models.HallucinationFinding `json:"applied_findings"`
	AppliedInferences []models.InferenceRule        `json:"applied_inferences"`
	ChangesMade       []string                      `json:"changes_made,omitempty"`
}

// Refiner removes flagged spans and weaves in safe inferences
type Refiner struct {
	generator llm.TextGenerator
	useModel  bool
	cfg       Config
	logger    *zap.Logger
}

// NewRefiner creates a refiner. A nil generator selects find/replace refinement only.
func NewRefiner(generator llm.TextGenerator, cfg Config, logger *zap.Logger) *Refiner {
	return &Refiner{
		generator: generator,
		useModel:  generator != nil,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Refine produces a revised text. inferences_added always equals len(AppliedInferences).
func (r *Refiner) Refine(ctx context.Context, original string, findings []models.HallucinationFinding, inferences []models.InferenceRule, rc Context) *Result {
	eligible := eligibleOnly(inferences)
	present := presentFindings(original, findings)

	qualityBefore := QualityScore(original, Elements(original, rc.Profile, eligible), len(present) == 0)

	if len(present) == 0 && (len(eligible) == 0 || qualityBefore > r.cfg.ExcellentThreshold) {
		return r.unchanged(original, rc, eligible, qualityBefore)
	}

	if r.useModel {
		res, err := r.refineWithModel(ctx, original, present, eligible, rc, qualityBefore)
		if err == nil {
			return res
		}
		r.logger.Warn("Model refinement failed, using rules",
			zap.String("channel", string(rc.Channel)),
			zap.Error(err))
		metrics.Fallback("refiner", "model_failed")
	}
	return r.refineWithRules(original, present, eligible, rc, qualityBefore)
}

func (r *Refiner) unchanged(original string, rc Context, eligible []models.InferenceRule, quality float64) *Result {
	personalization := PersonalizationScore(original, Elements(original, rc.Profile, eligible))
	wc := wordCount(original)
	return &Result{
		RefinedText: original,
		Metrics: models.RefinementMetrics{
			PersonalizationScoreBefore: personalization,
			PersonalizationScoreAfter:  personalization,
			QualityScoreBefore:         quality,
			QualityScoreAfter:          quality,
			WordCountBefore:            wc,
			WordCountAfter:             wc,
			GenerationMethod:           models.MethodNoRefinementNeeded,
		},
		AppliedFindings:   []models.HallucinationFinding{},
		AppliedInferences: []models.InferenceRule{},
	}
}

func (r *Refiner) refineWithRules(original string, findings []models.HallucinationFinding, eligible []models.InferenceRule, rc Context, qualityBefore float64) *Result {
	refined := applyFixes(original, findings)

	for _, inf := range eligible {
		if Verify(inf, refined) {
			continue
		}
		if next, ok := insertAfterGreeting(refined, inf.Inference); ok {
			if rc.Channel == models.SMS && len([]rune(next)) > models.MaxSMSLength {
				break
			}
			refined = next
		}
		break
	}

	res := r.result(original, refined, findings, eligible, rc, qualityBefore, models.MethodRuleBased)
	res.Metrics.QualityScoreAfter *= r.cfg.FallbackDiscount
	return res
}

// result verifies what actually changed between original and refined
func (r *Refiner) result(original, refined string, findings []models.HallucinationFinding, eligible []models.InferenceRule, rc Context, qualityBefore float64, method string) *Result {
	applied := []models.HallucinationFinding{}
	for _, f := range findings {
		if !containsFold(refined, f.Text) {
			applied = append(applied, f)
		}
	}

	added := []models.InferenceRule{}
	for _, inf := range eligible {
		if Verify(inf, refined) && !Verify(inf, original) {
			added = append(added, inf)
		}
	}

	remaining := len(findings) - len(applied)
	res := &Result{
		RefinedText:       refined,
		AppliedFindings:   applied,
		AppliedInferences: added,
		Metrics: models.RefinementMetrics{
			HallucinationsRemoved:      len(applied),
			InferencesAdded:            len(added),
			PersonalizationScoreBefore: PersonalizationScore(original, Elements(original, rc.Profile, eligible)),
			PersonalizationScoreAfter:  PersonalizationScore(refined, Elements(refined, rc.Profile, eligible)),
			QualityScoreBefore:         qualityBefore,
			QualityScoreAfter:          QualityScore(refined, Elements(refined, rc.Profile, eligible), remaining == 0),
			WordCountBefore:            wordCount(original),
			WordCountAfter:             wordCount(refined),
			GenerationMethod:           method,
		},
	}

	r.logger.Info("Refinement complete",
		zap.String("channel", string(rc.Channel)),
		zap.String("method", method),
		zap.Int("hallucinations_removed", res.Metrics.HallucinationsRemoved),
		zap.Int("inferences_added", res.Metrics.InferencesAdded))
	return res
}

var errEmptyRefinement = errors.New("model returned no refined content")

type modelRefinement struct {
	RefinedContent string   `json:"refined_content"`
	ChangesMade    []string `json:"changes_made"`
}

func (r *Refiner) refineWithModel(ctx context.Context, original string, findings []models.HallucinationFinding, eligible []models.InferenceRule, rc Context, qualityBefore float64) (*Result, error) {
	raw, err := r.generator.Generate(ctx, buildRefinementPrompt(original, findings, eligible, rc), models.GenerateOptions{
		Temperature: 0.5,
		MaxTokens:   3000,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var parsed modelRefinement
	if err := llm.ExtractJSON(raw, &parsed); err != nil {
		return nil, err
	}
	refined := strings.TrimSpace(parsed.RefinedContent)
	if refined == "" {
		return nil, errEmptyRefinement
	}

	// flagged spans the model kept are fixed deterministically
	refined = applyFixes(refined, findings)

	spec := rc.Channel.Spec()
	if len(spec.Validate(refined)) > len(spec.Validate(original)) {
		return nil, fmt.Errorf("refined %s text breaks channel rules: %v", rc.Channel, spec.Validate(refined))
	}

	res := r.result(original, refined, findings, eligible, rc, qualityBefore, models.MethodAIRefinement)
	res.ChangesMade = parsed.ChangesMade
	return res, nil
}

func eligibleOnly(inferences []models.InferenceRule) []models.InferenceRule {
	out := []models.InferenceRule{}
	for _, inf := range inferences {
		if inf.Eligible() && strings.TrimSpace(inf.Inference) != "" {
			out = append(out, inf)
		}
	}
	return out
}

func presentFindings(text string, findings []models.HallucinationFinding) []models.HallucinationFinding {
	out := []models.HallucinationFinding{}
	seen := make(map[string]bool)
	for _, f := range findings {
		key := strings.ToLower(f.Text)
		if f.Text == "" || seen[key] || !containsFold(text, f.Text) {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

var (
	doubleSpace   = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeP  = regexp.MustCompile(`[ \t]+([,.;:!?])`)
	repeatedComma = regexp.MustCompile(`,([ \t]*,)+`)
	leadingComma  = regexp.MustCompile(`(^|[.!?\n][ \t]*),[ \t]*`)
)

// applyFixes replaces every flagged span, ignoring case, with its suggested fix.
// An empty fix removes the span.
func applyFixes(text string, findings []models.HallucinationFinding) string {
	removed := false
	for _, f := range findings {
		if f.Text == "" || !containsFold(text, f.Text) {
			continue
		}
		if f.SuggestedFix == "" {
			removed = true
		}
		// an appositive span ("your advisor, Jo Bloggs") takes its closing comma with it
		appositive := strings.Contains(f.Text, ",")
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(f.Text) + `(,)?`)
		text = re.ReplaceAllStringFunc(text, func(span string) string {
			closing := ""
			if strings.HasSuffix(span, ",") && len(span) > len(f.Text) {
				span = span[:len(span)-1]
				if !appositive {
					closing = ","
				}
			}
			if f.SuggestedFix == "" {
				return closing
			}
			return matchCase(span, f.SuggestedFix) + closing
		})
	}
	if removed {
		text = tidy(text)
	}
	return text
}

func containsFold(text, sub string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(sub))
}

func tidy(text string) string {
	text = repeatedComma.ReplaceAllString(text, ",")
	text = leadingComma.ReplaceAllString(text, "$1")
	text = spaceBeforeP.ReplaceAllString(text, "$1")
	text = doubleSpace.ReplaceAllString(text, " ")

	// recapitalize sentence starts exposed by a removal
	runes := []rune(text)
	capNext, terminal := true, false
	for i, c := range runes {
		switch {
		case c == '.' || c == '!' || c == '?':
			terminal = true
		case c == '\n':
			capNext = true
		case unicode.IsSpace(c):
			if terminal {
				capNext = true
			}
		case unicode.IsLetter(c):
			if capNext {
				runes[i] = unicode.ToUpper(c)
			}
			capNext, terminal = false, false
		default:
			capNext, terminal = false, false
		}
	}
	return strings.TrimSpace(string(runes))
}

// matchCase capitalizes fix when the replaced span started a sentence
func matchCase(span, fix string) string {
	s, f := []rune(span), []rune(fix)
	if len(s) == 0 || len(f) == 0 || !unicode.IsUpper(s[0]) {
		return fix
	}
	f[0] = unicode.ToUpper(f[0])
	return string(f)
}

var greetingLine = regexp.MustCompile(`^(?:Dear|Hi|Hello)\b`)

// insertAfterGreeting adds statement as its own line after the first greeting line
func insertAfterGreeting(text, statement string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !greetingLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		sentence := asSentence(statement)
		out := make([]string, 0, len(lines)+2)
		out = append(out, lines[:i+1]...)
		out = append(out, "", sentence)
		rest := lines[i+1:]
		if len(rest) > 0 && strings.TrimSpace(rest[0]) != "" {
			out = append(out, "")
		}
		out = append(out, rest...)
		return strings.Join(out, "\n"), true
	}
	return text, false
}

func asSentence(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	s = string(r)
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
		s += "."
	}
	return s
}

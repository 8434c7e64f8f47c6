package coverage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"

	"go.uber.org/zap"
)

// Validation methods
const (
	MethodModel   = "model"
	MethodPattern = "pattern_matching"
)

// Validator checks which key points survived into each channel
type Validator struct {
	generator llm.TextGenerator
	useModel  bool
	logger    *zap.Logger
}

// NewValidator creates a validator. A nil generator selects pattern matching only.
func NewValidator(generator llm.TextGenerator, logger *zap.Logger) *Validator {
	return &Validator{
		generator: generator,
		useModel:  generator != nil,
		logger:    logger,
	}
}

// Validate rewrites FoundInChannels on every point and summarizes coverage.
// The returned slice shares its backing array with points.
func (v *Validator) Validate(ctx context.Context, points []models.KeyPoint, texts map[models.Channel]string) ([]models.KeyPoint, models.CoverageSummary) {
	channels := orderedChannels(texts)

	if v.useModel && len(points) > 0 && len(channels) > 0 {
		found, err := v.validateWithModel(ctx, points, channels, texts)
		if err == nil {
			for i := range points {
				points[i].FoundInChannels = found[i]
			}
			return points, Summarize(points, texts, MethodModel)
		}
		v.logger.Warn("Model validation rejected, using pattern matching", zap.Error(err))
		metrics.Fallback("coverage", "model_rejected")
	}

	for i := range points {
		points[i].FoundInChannels = make(map[models.Channel]bool, len(channels))
		for _, ch := range channels {
			points[i].FoundInChannels[ch] = Matches(points[i], texts[ch])
		}
	}
	return points, Summarize(points, texts, MethodPattern)
}

// Summarize computes coverage from the points' current FoundInChannels.
// A point is preserved when every channel that requires it carries it; points no channel
// requires are preserved when any channel carries them.
func Summarize(points []models.KeyPoint, texts map[models.Channel]string, method string) models.CoverageSummary {
	channels := orderedChannels(texts)
	summary := models.CoverageSummary{
		TotalPoints:     len(points),
		ByChannel:       make(map[models.Channel]models.ChannelCoverage, len(channels)),
		CriticalMissing: []string{},
		Method:          method,
	}

	requiredBy := make(map[string]map[models.Channel]bool)
	for _, ch := range channels {
		cov := models.ChannelCoverage{Total: len(points)}
		for _, p := range points {
			if p.FoundInChannels[ch] {
				cov.Found++
			}
		}
		for _, p := range ch.Spec().CoverageRequirements(points) {
			cov.RequiredTotal++
			if p.FoundInChannels[ch] {
				cov.RequiredFound++
			}
			if requiredBy[p.Content] == nil {
				requiredBy[p.Content] = make(map[models.Channel]bool)
			}
			requiredBy[p.Content][ch] = true
		}
		cov.Percentage = percentage(cov.Found, cov.Total)
		cov.Issues = ch.Spec().Validate(texts[ch])
		summary.ByChannel[ch] = cov
	}

	for _, p := range points {
		preserved := preservedIn(p, channels, requiredBy[p.Content])
		if preserved {
			summary.TotalPreserved++
		}
		if p.Importance == models.Critical {
			summary.CriticalTotal++
			if preserved {
				summary.CriticalPreserved++
			} else {
				summary.CriticalMissing = append(summary.CriticalMissing, p.Content)
			}
		}
	}

	summary.CoveragePercentage = percentage(summary.TotalPreserved, summary.TotalPoints)

	switch {
	case len(summary.CriticalMissing) == 0:
		summary.Status = "success"
	case percentage(summary.CriticalPreserved, summary.CriticalTotal) >= 80:
		summary.Status = "warning"
	default:
		summary.Status = "error"
	}
	return summary
}

func preservedIn(p models.KeyPoint, channels []models.Channel, required map[models.Channel]bool) bool {
	if len(channels) == 0 {
		return false
	}
	if len(required) == 0 {
		for _, ch := range channels {
			if p.FoundInChannels[ch] {
				return true
			}
		}
		return false
	}
	for ch := range required {
		if !p.FoundInChannels[ch] {
			return false
		}
	}
	return true
}

func percentage(n, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}

func orderedChannels(texts map[models.Channel]string) []models.Channel {
	out := make([]models.Channel, 0, len(texts))
	for _, ch := range models.AllChannels {
		if _, ok := texts[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

type modelValidation struct {
	Validations []struct {
		PointNumber int             `json:"point_number"`
		Found       map[string]bool `json:"found"`
	} `json:"validations"`
	Summary struct {
		CriticalTotal int `json:"critical_total"`
	} `json:"summary"`
}

var errDegenerate = errors.New("model validation looks degenerate")

func (v *Validator) validateWithModel(ctx context.Context, points []models.KeyPoint, channels []models.Channel, texts map[models.Channel]string) ([]map[models.Channel]bool, error) {
	raw, err := v.generator.Generate(ctx, buildValidationPrompt(points, channels, texts), models.GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var parsed modelValidation
	if err := llm.ExtractJSON(raw, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Validations) == 0 {
		return nil, fmt.Errorf("%w: no validations", errDegenerate)
	}

	critical := 0
	for _, p := range points {
		if p.Importance == models.Critical {
			critical++
		}
	}
	if critical > 0 && parsed.Summary.CriticalTotal == 0 {
		return nil, fmt.Errorf("%w: critical_total is zero", errDegenerate)
	}

	found := make([]map[models.Channel]bool, len(points))
	for i := range found {
		found[i] = make(map[models.Channel]bool, len(channels))
		for _, ch := range channels {
			found[i][ch] = false
		}
	}
	for _, val := range parsed.Validations {
		idx := val.PointNumber - 1
		if idx < 0 || idx >= len(points) {
			continue
		}
		for name, ok := range val.Found {
			ch, err := models.ParseChannel(name)
			if err != nil {
				continue
			}
			if _, wanted := texts[ch]; wanted {
				found[idx][ch] = ok
			}
		}
	}

	// A model that misses a thank-you the text plainly contains is not trusted
	for i, p := range points {
		if !strings.Contains(strings.ToLower(p.Content), "thank you") {
			continue
		}
		for _, ch := range channels {
			if !found[i][ch] && strings.Contains(strings.ToLower(texts[ch]), "thank you") {
				return nil, fmt.Errorf("%w: closing reported missing in %s", errDegenerate, ch)
			}
		}
	}

	return found, nil
}

func buildValidationPrompt(points []models.KeyPoint, channels []models.Channel, texts map[models.Channel]string) string {
	var sb strings.Builder
	sb.WriteString("Check whether each key point from the original letter appears in each personalized version.\n")
	sb.WriteString("A point counts as present when its meaning is preserved, even if reworded.\n\nKEY POINTS:\n")
	for i, p := range points {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, p.Importance, p.Content)
	}
	for _, ch := range channels {
		fmt.Fprintf(&sb, "\n%s:\n%s\n", strings.ToUpper(string(ch)), texts[ch])
	}
	sb.WriteString(`
Return JSON:
{"validations": [{"point_number": 1, "found": {"email": true, "sms": false}}],
 "summary": {"critical_total": 0, "critical_preserved": 0}}`)
	return sb.String()
}

package extractor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"

	"go.uber.org/zap"
)

const (
	minPoints      = 3
	mergeThreshold = 5
	maxSnippet     = 200
)

// Extractor derives the key points a personalized message must preserve
type Extractor struct {
	generator llm.TextGenerator
	useModel  bool
	logger    *zap.Logger
}

// NewExtractor creates an extractor. A nil generator selects the rule-based strategy only.
func NewExtractor(generator llm.TextGenerator, logger *zap.Logger) *Extractor {
	return &Extractor{
		generator: generator,
		useModel:  generator != nil,
		logger:    logger,
	}
}

// Extract returns at least three key points for any non-empty document, ordered by importance.
// It never fails: model errors degrade to the rule-based strategy.
func (e *Extractor) Extract(ctx context.Context, document string) []models.KeyPoint {
	if strings.TrimSpace(document) == "" {
		return nil
	}

	var points []models.KeyPoint
	if e.useModel {
		modelPoints, err := e.extractWithModel(ctx, document)
		if err != nil {
			e.logger.Warn("Model extraction failed, using rules", zap.Error(err))
			metrics.Fallback("extractor", "model_error")
		}
		points = modelPoints
		if len(points) < mergeThreshold {
			points = merge(points, ExtractRules(document))
		}
	} else {
		points = ExtractRules(document)
	}

	points = ensureFloor(points, document)
	sortByImportance(points)

	e.logger.Debug("Key points extracted",
		zap.Int("count", len(points)),
		zap.Bool("model", e.useModel))

	return points
}

type modelPoint struct {
	Content     string `json:"content"`
	Importance  string `json:"importance"`
	Category    string `json:"category"`
	Explanation string `json:"explanation"`
}

func (e *Extractor) extractWithModel(ctx context.Context, document string) ([]models.KeyPoint, error) {
	raw, err := e.generator.Generate(ctx, buildExtractionPrompt(document), models.GenerateOptions{
		Temperature: 0.2,
		MaxTokens:   1500,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var parsed []modelPoint
	if err := llm.ExtractJSON(raw, &parsed); err != nil {
		return nil, err
	}

	points := make([]models.KeyPoint, 0, len(parsed))
	for _, p := range parsed {
		if strings.TrimSpace(p.Content) == "" || isNegative(p.Content) {
			continue
		}
		points = append(points, models.NewKeyPoint(p.Content, models.ParseImportance(p.Importance), p.Category, p.Explanation))
	}
	return dedupe(points), nil
}

// ExtractRules runs the rule-based strategy alone
func ExtractRules(document string) []models.KeyPoint {
	var points []models.KeyPoint
	add := func(content string, importance models.Importance, category, explanation string) {
		content = strings.TrimRight(strings.TrimSpace(content), ".,;:")
		if content == "" || isNegative(content) {
			return
		}
		points = append(points, models.NewKeyPoint(truncate(content), importance, category, explanation))
	}

	for _, m := range numericDatePattern.FindAllString(document, -1) {
		add(m, models.Critical, models.CategoryDate, "Specific date found")
	}
	for _, m := range monthDatePattern.FindAllString(document, -1) {
		add(m, models.Critical, models.CategoryDate, "Specific date found")
	}
	for _, m := range amountPattern.FindAllString(document, -1) {
		add(m, models.Critical, models.CategoryAmount, "Monetary amount found")
	}
	for _, m := range percentagePattern.FindAllString(document, -1) {
		add(m, models.Critical, models.CategoryPercentage, "Rate or percentage found")
	}
	for _, m := range sortCodePattern.FindAllStringSubmatch(document, -1) {
		add("Sort code "+m[1], models.Critical, models.CategoryAccount, "Account identifier")
	}
	for _, m := range accountEndingPattern.FindAllStringSubmatch(document, -1) {
		add("Account ending "+m[1], models.Critical, models.CategoryAccount, "Account identifier")
	}
	for _, m := range legalPattern.FindAllString(document, 2) {
		add(m, models.Critical, models.CategoryLegal, "Regulatory or legal statement")
	}
	for _, m := range timePattern.FindAllString(document, -1) {
		add(m, models.Important, models.CategoryTime, "Specific time found")
	}

	seenPhones := make(map[string]bool)
	for _, pattern := range phonePatterns {
		for _, m := range pattern.FindAllString(document, -1) {
			digits := digitsOnly(m)
			if seenPhones[digits] {
				continue
			}
			seenPhones[digits] = true
			add(m, models.Important, models.CategoryContact, "Contact number")
		}
	}
	for _, m := range urlPattern.FindAllString(document, 2) {
		m = strings.TrimRight(m, ".")
		if len(m) < 6 {
			continue
		}
		add(m, models.Important, models.CategoryContact, "Website URL")
	}

	for _, m := range actionPattern.FindAllString(document, 3) {
		add(m, models.Important, models.CategoryAction, "Customer action required")
	}
	for _, m := range featurePattern.FindAllString(document, 3) {
		add(m, models.Important, models.CategoryFeature, "New capability or feature")
	}
	for _, m := range benefitPattern.FindAllString(document, 2) {
		add(m, models.Important, models.CategoryBenefit, "Customer benefit")
	}
	for _, m := range newPattern.FindAllString(document, 2) {
		add(m, models.Contextual, models.CategoryFeature, "Product change")
	}

	if strings.Contains(strings.ToLower(document), closingPhrase) {
		add("Thank you for banking with us", models.Contextual, models.CategoryClosing, "Letter closing")
	}

	return dedupe(points)
}

// ensureFloor tops up a short list with generic points drawn from the document itself
func ensureFloor(points []models.KeyPoint, document string) []models.KeyPoint {
	if len(points) >= minPoints {
		return points
	}

	if core := coreMessage(document); core != "" {
		points = merge(points, []models.KeyPoint{
			models.NewKeyPoint(core, models.Important, models.CategoryMainMessage, "Core letter message"),
		})
	}

	for _, s := range sentencePattern.FindAllString(document, -1) {
		if len(points) >= minPoints {
			return points
		}
		s = strings.TrimSpace(s)
		if len(strings.Fields(s)) < 2 || isGreeting(s) {
			continue
		}
		points = merge(points, []models.KeyPoint{
			models.NewKeyPoint(truncate(s), models.Contextual, models.CategoryGeneral, "Document statement"),
		})
	}

	// Very short documents still get distinct generic points over the whole text
	snippet := truncate(strings.Join(strings.Fields(document), " "))
	for i := 1; len(points) < minPoints; i++ {
		points = merge(points, []models.KeyPoint{
			models.NewKeyPoint(fmt.Sprintf("Key information %d: %s", i, snippet), models.Contextual, models.CategoryGeneral, "Generic document point"),
		})
	}
	return points
}

// coreMessage is the first substantive line that is not a salutation or sign-off
func coreMessage(document string) string {
	for _, line := range strings.Split(document, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 50 && !strings.HasPrefix(line, "Dear") && !strings.HasPrefix(line, "Sincerely") {
			return truncate(line)
		}
	}
	return ""
}

var greetingLine = regexp.MustCompile(`(?i)^(dear|hi|hello|sincerely|yours|kind regards|regards)\b`)

func isGreeting(s string) bool {
	return greetingLine.MatchString(strings.TrimSpace(s))
}

func isNegative(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range negativeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// merge appends extra points whose content is not already present, case-insensitively
func merge(points, extra []models.KeyPoint) []models.KeyPoint {
	return dedupe(append(points, extra...))
}

func dedupe(points []models.KeyPoint) []models.KeyPoint {
	seen := make(map[string]bool, len(points))
	out := points[:0]
	for _, p := range points {
		key := strings.ToLower(strings.TrimSpace(p.Content))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func sortByImportance(points []models.KeyPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Importance.Rank() < points[j].Importance.Rank()
	})
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxSnippet {
		return string(r[:maxSnippet])
	}
	return s
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

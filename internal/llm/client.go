package llm

import (
	"context"

	"personalization-service/internal/models"
)

// TextGenerator is the optional model capability handed to pipeline components.
// A nil TextGenerator means no model is configured and components use their fallback strategy.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error)
}

// Provider is a closable generator that can describe itself
type Provider interface {
	TextGenerator
	Close() error
	GetModelInfo() map[string]interface{}
}

// ModelName returns the model a generator reports, or "unknown"
func ModelName(g TextGenerator) string {
	p, ok := g.(interface{ GetModelInfo() map[string]interface{} })
	if !ok {
		return "unknown"
	}
	if m, ok := p.GetModelInfo()["model"].(string); ok && m != "" {
		return m
	}
	return "unknown"
}

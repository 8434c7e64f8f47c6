// Package openaicompat talks to any provider that speaks the OpenAI chat completions API:
// Groq, OpenRouter, OpenAI itself and Anthropic's compatibility endpoint.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"personalization-service/internal/models"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Known base URLs and default models per provider
var (
	baseURLs = map[string]string{
		"groq":       "https://api.groq.com/openai/v1",
		"openrouter": "https://openrouter.ai/api/v1",
		"openai":     "https://api.openai.com/v1",
		"anthropic":  "https://api.anthropic.com/v1",
	}
	defaultModels = map[string]string{
		"groq":       "llama-3.3-70b-versatile",
		"openrouter": "meta-llama/llama-3.2-3b-instruct:free",
		"openai":     "gpt-4o-mini",
		"anthropic":  "claude-3-5-haiku-latest",
	}
)

const systemInstruction = "You are a banking communications specialist. " +
	"Reply with valid JSON only, matching the schema described in the prompt. " +
	"Never invent names, dates, amounts, locations or customer history."

// Client is a chat-completions client for one provider
type Client struct {
	client     *openai.Client
	provider   string
	baseURL    string
	modelName  string
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
}

// Config holds configuration for an OpenAI-compatible client
type Config struct {
	Provider   string // groq, openrouter, openai, anthropic
	APIKey     string
	ModelName  string
	BaseURL    string // overrides the provider default
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// NewClient creates a new client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLs[cfg.Provider]
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no base URL for provider %q", cfg.Provider)
	}

	if cfg.ModelName == "" {
		cfg.ModelName = defaultModels[cfg.Provider]
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.ModelName),
		zap.String("base_url", cfg.BaseURL))

	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		provider:   cfg.Provider,
		baseURL:    cfg.BaseURL,
		modelName:  cfg.ModelName,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Close is a no-op, the underlying HTTP client holds no resources
func (c *Client) Close() error {
	return nil
}

// Generate sends the prompt as a single user message
func (c *Client) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error) {
	system := opts.System
	if system == "" {
		system = systemInstruction
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.3
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying chat completion",
				zap.String("provider", c.provider),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", c.maxRetries))
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("%s API error: %w", c.provider, err)
			c.logger.Error("Chat completion failed",
				zap.String("provider", c.provider),
				zap.Error(err),
				zap.Int("attempt", attempt+1))
			if isPermanent(err) {
				break
			}
			continue
		}

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = fmt.Errorf("empty response from %s", c.provider)
			c.logger.Error("Empty chat completion", zap.String("provider", c.provider), zap.Int("attempt", attempt+1))
			continue
		}

		c.logger.Debug("Chat completion succeeded",
			zap.String("provider", c.provider),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
			zap.Int("attempt", attempt+1))

		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

// isPermanent reports client errors that a retry cannot fix
func isPermanent(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized ||
			apiErr.HTTPStatusCode == http.StatusForbidden ||
			apiErr.HTTPStatusCode == http.StatusBadRequest
	}
	return false
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    c.provider,
		"model":       c.modelName,
		"base_url":    c.baseURL,
		"max_retries": c.maxRetries,
		"retry_delay": c.retryDelay.String(),
	}
}

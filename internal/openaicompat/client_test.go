package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"personalization-service/internal/models"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completion(content string) string {
	return `{"id": "c1", "object": "chat.completion", "model": "test-model",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": ` + quote(content) + `}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Provider:   "groq",
		APIKey:     "test-key",
		ModelName:  "test-model",
		BaseURL:    srv.URL,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		HTTPClient: srv.Client(),
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	var got openai.ChatCompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion(`{"ok": true}`)))
	})

	out, err := c.Generate(context.Background(), "check this", models.GenerateOptions{System: "be brief", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "check this", got.Messages[1].Content)
	assert.Equal(t, 100, got.MaxTokens)
	assert.InDelta(t, 0.3, got.Temperature, 1e-6)
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion("third time lucky")))
	})

	out, err := c.Generate(context.Background(), "prompt", models.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerate_UnauthorizedIsPermanent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
	})

	_, err := c.Generate(context.Background(), "prompt", models.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "groq API error")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerate_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion("   ")))
	})

	_, err := c.Generate(context.Background(), "prompt", models.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response from groq")
}

func TestNewClient_Defaults(t *testing.T) {
	_, err := NewClient(Config{Provider: "groq"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(Config{Provider: "unknown", APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)

	c, err := NewClient(Config{Provider: "anthropic", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	info := c.GetModelInfo()
	assert.Equal(t, "anthropic", info["provider"])
	assert.Equal(t, defaultModels["anthropic"], info["model"])
	assert.Equal(t, baseURLs["anthropic"], info["base_url"])
	assert.Equal(t, 3, info["max_retries"])
	assert.NoError(t, c.Close())
}

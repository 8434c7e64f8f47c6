package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"personalization-service/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "app.db")
	return cfg
}

func TestNew_WithoutModel(t *testing.T) {
	a, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Generator)
	assert.Equal(t, "none", a.ModelName())
	assert.Nil(t, a.Rules)
	require.NotNil(t, a.Pipeline)

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_LoadsRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.RulesFile = filepath.Join(t.TempDir(), "rules.yml")
	require.NoError(t, os.WriteFile(cfg.Pipeline.RulesFile, []byte(`
rules:
  - id: no_sms
    actions:
      - type: disable_feature
        feature: sms
`), 0644))

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Rules)
	assert.Len(t, a.Rules.Rules(), 1)
}

func TestNew_BadRulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.RulesFile = filepath.Join(t.TempDir(), "missing.yml")

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestRouter_AuthEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AuthEnabled = true
	cfg.Server.JWTSecret = "s3cret"

	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

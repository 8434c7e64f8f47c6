package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"personalization-service/internal/config"
	"personalization-service/internal/gemini"
	"personalization-service/internal/handler"
	"personalization-service/internal/llm"
	"personalization-service/internal/middleware"
	"personalization-service/internal/repository"
	"personalization-service/internal/rules"
	"personalization-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// App holds the wired service
type App struct {
	Config    *config.Config
	Generator llm.TextGenerator
	Repo      *repository.Repository
	Rules     *rules.Engine
	Pipeline  *service.Pipeline

	logger  *zap.Logger
	closers []func() error
}

// NewLogger returns a development logger when asked, a production logger otherwise
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New wires the generator, store, rules and pipeline described by cfg
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	a.Generator = a.newGenerator()

	if cfg.Database.Type == repository.TypeSQLite {
		// Create data directory if not exists
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := repository.Open(cfg.Database.Type, cfg.Database.Path, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Repo = repository.NewRepository(db, logger)
	a.closers = append(a.closers, a.Repo.Close)

	if cfg.Pipeline.RulesFile != "" {
		a.Rules, err = rules.Load(cfg.Pipeline.RulesFile, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	comps := service.NewComponents(a.Generator, cfg.Pipeline, logger)
	a.Pipeline = service.NewPipeline(comps, service.Options{
		Rules:     a.Rules,
		Jobs:      a.Repo,
		Decisions: a.Repo,
		Workers:   cfg.Pipeline.Workers,
	}, logger)

	return a, nil
}

// newGenerator prefers the multi-provider client, then the legacy Gemini client.
// It returns nil when no model is configured or none could be created.
func (a *App) newGenerator() llm.TextGenerator {
	cfg := a.Config
	if !cfg.HasModel() {
		a.logger.Info("No model configured, using rule and pattern strategies")
		return nil
	}

	multiClient, err := llm.NewMultiProviderClient(cfg.MultiProvider(), a.logger)
	if err == nil {
		a.closers = append(a.closers, multiClient.Close)
		a.logger.Info("Multi-provider client initialized",
			zap.Int("provider_count", len(cfg.MultiProvider().Providers)))
		return multiClient
	}
	a.logger.Warn("Failed to initialize multi-provider client, falling back to single provider",
		zap.Error(err))

	if cfg.Gemini.APIKey == "" || cfg.Gemini.APIKey == "YOUR_API_KEY_HERE" {
		a.logger.Warn("Gemini API key not configured, using rule and pattern strategies")
		return nil
	}

	geminiClient, err := gemini.NewClient(gemini.Config{
		APIKey:     cfg.Gemini.APIKey,
		ModelName:  cfg.Gemini.ModelName,
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: 2 * time.Second,
	}, a.logger)
	if err != nil {
		a.logger.Warn("Failed to initialize Gemini client, using rule and pattern strategies", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, geminiClient.Close)

	// Wrap with rate limiting
	a.logger.Info("Single provider client initialized with rate limiting")
	return llm.NewRateLimitedProvider(geminiClient, 8, a.logger)
}

// Router builds the HTTP router with CORS and, when enabled, JWT auth
func (a *App) Router() *gin.Engine {
	if !a.Config.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.CORS(a.Config.Server.AllowedOrigins))

	var auth gin.HandlerFunc
	if a.Config.Server.AuthEnabled {
		auth = middleware.AuthMiddleware([]byte(a.Config.Server.JWTSecret), a.logger)
	}

	handler.NewHandler(a.Pipeline, a.Repo, a.logger).RegisterRoutes(router, auth)
	return router
}

// ModelName reports the model in use, or "none"
func (a *App) ModelName() string {
	if a.Generator == nil {
		return "none"
	}
	return llm.ModelName(a.Generator)
}

// Close releases clients and the store in reverse order
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

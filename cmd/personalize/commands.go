package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"personalization-service/internal/app"
	"personalization-service/internal/client"
	"personalization-service/internal/config"
	"personalization-service/internal/middleware"
	"personalization-service/internal/rules"
	"personalization-service/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// loadConfig reads the config file, falling back to defaults when no file was asked for and none exists
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.ResolvePath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			cfg.Pipeline.DisableModel = cfg.Pipeline.DisableModel || offline
			return cfg, nil
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Pipeline.DisableModel = true
	}
	return cfg, nil
}

func newApp() (*app.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := app.NewLogger(cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

func runSingle(cmd *cobra.Command, args []string) error {
	var req service.Request
	if err := readJSON(args[0], &req); err != nil {
		return err
	}

	a, logger, err := newApp()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.Pipeline.Run(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(res)
}

func runBatch(cmd *cobra.Command, args []string) error {
	var reqs []service.Request
	if err := readJSON(args[0], &reqs); err != nil {
		return err
	}

	a, logger, err := newApp()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	n := workers
	if n <= 0 {
		n = a.Config.Pipeline.Workers
	}

	items, err := a.Pipeline.RunBatch(ctx, reqs, n)
	if werr := writeJSON(items); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}

	ready := 0
	for _, item := range items {
		if item.Result != nil && item.Result.ReadyToSend {
			ready++
		}
	}
	logger.Info("Batch completed",
		zap.Int("total", len(items)),
		zap.Int("ready_to_send", ready))
	return nil
}

func submitBatch(cmd *cobra.Command, args []string) error {
	var reqs []service.Request
	if err := readJSON(args[0], &reqs); err != nil {
		return err
	}

	logger, err := app.NewLogger(false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	c := client.NewClient(serverURL, serverToken, logger)
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("server unavailable: %w", err)
	}

	jobID, err := c.SubmitBatch(ctx, reqs)
	if err != nil {
		return err
	}
	if !wait {
		return writeJSON(map[string]string{"job_id": jobID})
	}

	job, err := c.WaitJob(ctx, jobID, 2*time.Second)
	if err != nil {
		return err
	}
	decisions, err := c.Decisions(ctx, jobID)
	if err != nil {
		return err
	}
	return writeJSON(map[string]interface{}{
		"job":       job,
		"decisions": decisions,
	})
}

func validateRules(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var f rules.File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	blocking := 0
	for _, issue := range rules.Validate(f.Rules) {
		level := "error"
		if issue.Warning {
			level = "warning"
		} else {
			blocking++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", level, issue)
	}
	if blocking > 0 {
		return fmt.Errorf("%w: %d blocking issues", rules.ErrInvalidRules, blocking)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", len(f.Rules))
	return nil
}

func issueToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not configured")
	}

	ttl, err := time.ParseDuration(tokenTTL)
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}

	token, err := middleware.IssueToken([]byte(cfg.Server.JWTSecret), tokenSubject, tokenRole, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

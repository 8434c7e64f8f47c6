package config

import (
	"fmt"
	"os"

	"personalization-service/internal/hallucination"
	"personalization-service/internal/llm"
	"personalization-service/internal/refiner"
	"personalization-service/internal/sentiment"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config location
const EnvConfigPath = "PERSONALIZATION_CONFIG"

// DefaultPath is used when EnvConfigPath is unset
const DefaultPath = "configs/config.yml"

// Config holds application configuration
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AuthEnabled    bool     `yaml:"auth_enabled"`
		JWTSecret      string   `yaml:"jwt_secret" validate:"required_if=AuthEnabled true"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	// Multiple providers configuration
	Providers []llm.ProviderConfig `yaml:"providers" validate:"dive"`

	// Legacy single provider config (fallback)
	Gemini struct {
		APIKey     string `yaml:"api_key"`
		ModelName  string `yaml:"model_name"`
		MaxRetries int    `yaml:"max_retries" validate:"gte=0"`
	} `yaml:"gemini"`

	Database struct {
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
		Type string `yaml:"type" validate:"oneof=sqlite postgres"`
	} `yaml:"database"`

	MaxFailuresBeforeSwitch int `yaml:"max_failures_before_switch" validate:"gte=0"`

	Pipeline Pipeline `yaml:"pipeline"`

	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
}

// Pipeline tunes the content integrity stages
type Pipeline struct {
	Hallucination hallucination.Config `yaml:"hallucination"`
	Refiner       refiner.Config       `yaml:"refiner"`
	Sentiment     sentiment.Config     `yaml:"sentiment"`

	// Workers bounds parallel customers in a batch
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`

	// RulesFile holds channel eligibility rules, empty enables every channel
	RulesFile string `yaml:"rules_file"`

	// DisableModel forces the fallback strategies even when providers are configured
	DisableModel bool `yaml:"disable_model"`
}

// HasModel reports whether any provider is configured
func (c *Config) HasModel() bool {
	if c.Pipeline.DisableModel {
		return false
	}
	return len(c.Providers) > 0 || c.Gemini.APIKey != ""
}

// ResolvePath returns the config path from the environment or the default
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	// Expand environment variables in secrets and DSNs
	for i := range config.Providers {
		config.Providers[i].APIKey = os.ExpandEnv(config.Providers[i].APIKey)
	}
	config.Gemini.APIKey = os.ExpandEnv(config.Gemini.APIKey)
	config.Server.JWTSecret = os.ExpandEnv(config.Server.JWTSecret)
	config.Database.Path = os.ExpandEnv(config.Database.Path)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns a config with every default applied and no providers
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8003"
	}

	if c.Gemini.ModelName == "" {
		c.Gemini.ModelName = "gemini-2.0-flash"
	}

	if c.Gemini.MaxRetries == 0 {
		c.Gemini.MaxRetries = 3
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/personalization.db"
	}

	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}

	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}

	h := hallucination.DefaultConfig()
	if c.Pipeline.Hallucination.HighWeight == 0 {
		c.Pipeline.Hallucination.HighWeight = h.HighWeight
	}
	if c.Pipeline.Hallucination.MediumWeight == 0 {
		c.Pipeline.Hallucination.MediumWeight = h.MediumWeight
	}
	if c.Pipeline.Hallucination.LowWeight == 0 {
		c.Pipeline.Hallucination.LowWeight = h.LowWeight
	}
	if c.Pipeline.Hallucination.Divisor == 0 {
		c.Pipeline.Hallucination.Divisor = h.Divisor
	}

	r := refiner.DefaultConfig()
	if c.Pipeline.Refiner.ExcellentThreshold == 0 {
		c.Pipeline.Refiner.ExcellentThreshold = r.ExcellentThreshold
	}
	if c.Pipeline.Refiner.FallbackDiscount == 0 {
		c.Pipeline.Refiner.FallbackDiscount = r.FallbackDiscount
	}

	if c.Pipeline.Sentiment.BlockingThreshold == 0 {
		c.Pipeline.Sentiment.BlockingThreshold = sentiment.DefaultConfig().BlockingThreshold
	}
}

var validate = validator.New()

// Validate checks field constraints and value ranges
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if t := c.Pipeline.Sentiment.BlockingThreshold; t < 0 || t > 1 {
		return fmt.Errorf("invalid config: pipeline.sentiment.blocking_threshold %.2f outside [0,1]", t)
	}
	if t := c.Pipeline.Refiner.ExcellentThreshold; t < 0 || t > 1 {
		return fmt.Errorf("invalid config: pipeline.refiner.excellent_threshold %.2f outside [0,1]", t)
	}
	return nil
}

// MultiProvider builds the provider list, falling back to the legacy gemini block
func (c *Config) MultiProvider() llm.MultiProviderConfig {
	providers := c.Providers
	if len(providers) == 0 && c.Gemini.APIKey != "" {
		providers = []llm.ProviderConfig{{
			Type:       llm.ProviderGemini,
			APIKey:     c.Gemini.APIKey,
			ModelName:  c.Gemini.ModelName,
			MaxRetries: c.Gemini.MaxRetries,
		}}
	}
	return llm.MultiProviderConfig{
		Providers:   providers,
		MaxFailures: c.MaxFailuresBeforeSwitch,
	}
}

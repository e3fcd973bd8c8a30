// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest to lowest:
//  1. Environment variables (runtime override)
//  2. Config file (~/.banxian/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive values (API keys, database password) are masked in MarshalJSON
// and String so the config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidTokenBudget indicates the session token budget is out of range.
	ErrInvalidTokenBudget = errors.New("invalid token budget")

	// ErrInvalidMaxTurns indicates the agent turn bound is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidAddr indicates the listen address is malformed.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidEmbedderDimension indicates the embedder model cannot emit
	// vectors matching the documents schema.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")
)

// schemaVectorDimension mirrors knowledge.VectorDimension and the width of
// the documents.embedding column.
const schemaVectorDimension = 768

// embedderDimensions records the output widths known embedder models can
// produce. Min below Native marks a model with a tunable output
// dimensionality; fixed-width models carry Min == Native. Models not listed
// here pass validation unchecked.
var embedderDimensions = map[string]struct{ Min, Native int }{
	"gemini-embedding-001":   {128, 3072},
	"text-embedding-004":     {768, 768},
	"text-embedding-3-small": {256, 1536},
	"text-embedding-3-large": {256, 3072},
	"text-embedding-ada-002": {1536, 1536},
}

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new secrets, update MarshalJSON.
type Config struct {
	// Model provider and completion configuration
	Provider      string `mapstructure:"provider" json:"provider"` // "gemini" (default) or "openai"
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	MaxTurns      int    `mapstructure:"max_turns" json:"max_turns"`

	// Session configuration
	TokenBudget int `mapstructure:"token_budget" json:"token_budget"`

	// Partner API credentials
	FortuneAPIKey string `mapstructure:"fortune_api_key" json:"fortune_api_key"` // SENSITIVE
	SearchAPIKey  string `mapstructure:"search_api_key" json:"search_api_key"`   // SENSITIVE

	// Azure TTS
	AzureTTSKey    string `mapstructure:"azure_tts_key" json:"azure_tts_key"` // SENSITIVE
	AzureTTSRegion string `mapstructure:"azure_tts_region" json:"azure_tts_region"`
	VoicesDir      string `mapstructure:"voices_dir" json:"voices_dir"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".banxian")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("max_turns", 5)

	viper.SetDefault("token_budget", 1000)

	viper.SetDefault("azure_tts_region", "eastus")
	viper.SetDefault("voices_dir", "voices")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "banxian")
	viper.SetDefault("postgres_password", "banxian_dev_password")
	viper.SetDefault("postgres_db_name", "banxian")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("addr", ":8000")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
}

// bindEnvVariables binds secret and deployment environment variables
// explicitly. GEMINI_API_KEY and OPENAI_API_KEY are read directly by the
// Genkit plugins, not via Viper; Validate checks their presence based on
// the selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("fortune_api_key", "FORTUNE_API_KEY")
	mustBind("search_api_key", "SERP_API_KEY")
	mustBind("azure_tts_key", "AZURE_TTS_KEY")
	mustBind("azure_tts_region", "AZURE_TTS_REGION")

	mustBind("provider", "BANXIAN_PROVIDER")
	mustBind("model_name", "BANXIAN_MODEL_NAME")
	mustBind("addr", "BANXIAN_ADDR")
	mustBind("voices_dir", "BANXIAN_VOICES_DIR")
	mustBind("cors_origins", "BANXIAN_CORS_ORIGINS")
	mustBind("token_budget", "BANXIAN_TOKEN_BUDGET")
}

// Validate fails fast on out-of-range or inconsistent settings. Partner API
// keys are optional: the corresponding tools degrade to a "not configured"
// reply when absent.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if c.TokenBudget < 100 || c.TokenBudget > 1_000_000 {
		return fmt.Errorf("%w: %d (must be 100..1000000)", ErrInvalidTokenBudget, c.TokenBudget)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 20 {
		return fmt.Errorf("%w: %d (must be 1..20)", ErrInvalidMaxTurns, c.MaxTurns)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddr)
	}
	if dims, known := embedderDimensions[c.EmbedderModel]; known {
		if schemaVectorDimension < dims.Min || schemaVectorDimension > dims.Native {
			return fmt.Errorf("%w: %s emits %d..%d dimensions, schema needs %d",
				ErrInvalidEmbedderDimension, c.EmbedderModel, dims.Min, dims.Native,
				schemaVectorDimension)
		}
	}
	return nil
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "googleai/gemini-2.5-flash" or "openai/gpt-4o". A ModelName already
// containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOpenAI {
		return ProviderOpenAI + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// FullEmbedderName returns the provider-qualified embedder name for Genkit.
func (c *Config) FullEmbedderName() string {
	if strings.Contains(c.EmbedderModel, "/") {
		return c.EmbedderModel
	}
	if c.Provider == ProviderOpenAI {
		return ProviderOpenAI + "/" + c.EmbedderModel
	}
	return ProviderGoogleAI + "/" + c.EmbedderModel
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against partially shown secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 bytes or fewer
// are fully masked; longer secrets show the first and last 2 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit secret masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.FortuneAPIKey = maskSecret(a.FortuneAPIKey)
	a.SearchAPIKey = maskSecret(a.SearchAPIKey)
	a.AzureTTSKey = maskSecret(a.AzureTTSKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so printing a Config never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

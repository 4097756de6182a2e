// Package config loads the orchestrator's configuration from a YAML file,
// supplemented and overridden by environment variables for secrets,
// following the same LoadConfig/Validate/getEnv shape used across the
// teacher's configuration layer.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read unless overridden by CONFIG_PATH.
const DefaultConfigPath = "config.yaml"

// DefaultMaxBodySize bounds incoming webhook payloads.
const DefaultMaxBodySize int64 = 2 * 1024 * 1024

// MCPServerConfig configures a single MCP transport endpoint.
type MCPServerConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Token        string   `yaml:"-"`
	AuthHeader   string   `yaml:"auth_header"`
	AllowedTools []string `yaml:"allowed_tools"`
}

// ReviewConfig holds the §6 "Configuration (enumerated)" review-tuning
// knobs.
type ReviewConfig struct {
	MaxDiffChars             int      `yaml:"max_diff_chars"`
	MaxComments              int      `yaml:"max_comments"`
	MaxCommentsPerFile       int      `yaml:"max_comments_per_file"`
	SkipDrafts               bool     `yaml:"skip_drafts"`
	LenientOnTests           bool     `yaml:"lenient_on_tests"`
	UpdateExistingComments   bool     `yaml:"update_existing_comments"`
	PrecisionThreshold       float64  `yaml:"precision_threshold"`
	SkipPatterns             []string `yaml:"skip_patterns"`
	StaleCheckpointThreshold int      `yaml:"stale_checkpoint_threshold"`
	StaleCheckpointDays      int      `yaml:"stale_checkpoint_days"`
}

// Config is the root configuration object.
type Config struct {
	Log struct {
		Level    string `yaml:"level"`
		Format   string `yaml:"format"`
		Output   string `yaml:"output"`
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`
			MaxBackups int  `yaml:"max_backups"`
			MaxAge     int  `yaml:"max_age"`
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port             int           `yaml:"port"`
		ConcurrencyLimit int64         `yaml:"concurrency_limit"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxBodySize      int64         `yaml:"max_body_size"`
		WebhookSecret    string        `yaml:"-"`
		GitHubSecret     string        `yaml:"-"`
	} `yaml:"server"`

	LLM struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`

	MCP struct {
		Retry struct {
			Attempts   int           `yaml:"attempts"`
			Backoff    time.Duration `yaml:"backoff"`
			MaxBackoff time.Duration `yaml:"max_backoff"`
		} `yaml:"retry"`
		Bitbucket MCPServerConfig `yaml:"bitbucket"`
		GitHub    MCPServerConfig `yaml:"github"`
	} `yaml:"mcp"`

	Review ReviewConfig `yaml:"review"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig configures the audit log persistence layer.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// GetLogLevel maps the configured log level string to a slog.Level.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML, falling back to defaults when
// the file is absent, then always overlays environment variables for
// secrets and a handful of operational knobs.
func LoadConfig() *Config {
	cfg := &Config{}

	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 5
	cfg.Log.Rotation.MaxAge = 30
	cfg.Log.Rotation.Compress = true
	cfg.Server.Port = 8080
	cfg.Server.ConcurrencyLimit = 10
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o"
	cfg.MCP.Retry.Attempts = 3
	cfg.MCP.Retry.Backoff = 1 * time.Second
	cfg.MCP.Retry.MaxBackoff = 30 * time.Second
	cfg.Review.MaxDiffChars = 30_000
	cfg.Review.MaxComments = 25
	cfg.Review.MaxCommentsPerFile = 5
	cfg.Review.SkipDrafts = true
	cfg.Review.LenientOnTests = true
	cfg.Review.UpdateExistingComments = true
	cfg.Review.PrecisionThreshold = 0.7
	cfg.Review.StaleCheckpointThreshold = 20
	cfg.Review.StaleCheckpointDays = 30
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "agnusai.db"

	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.Server.WebhookSecret = getEnv("BITBUCKET_WEBHOOK_SECRET", cfg.Server.WebhookSecret)
	cfg.Server.GitHubSecret = getEnv("GITHUB_WEBHOOK_SECRET", cfg.Server.GitHubSecret)
	cfg.MCP.Bitbucket.Token = getEnv("BITBUCKET_MCP_TOKEN", cfg.MCP.Bitbucket.Token)
	cfg.MCP.GitHub.Token = getEnv("GITHUB_MCP_TOKEN", cfg.MCP.GitHub.Token)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}

	return cfg
}

// Validate checks required fields before the server starts accepting
// traffic.
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.MCP.Bitbucket.Endpoint == "" && c.MCP.GitHub.Endpoint == "" {
		errs = append(errs, "at least one of mcp.bitbucket.endpoint or mcp.github.endpoint must be configured")
	}
	if c.Review.PrecisionThreshold < 0 || c.Review.PrecisionThreshold > 1 {
		errs = append(errs, "review.precision_threshold must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

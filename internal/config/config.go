package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/tsilva/parsehealthlog/internal/registry"
)

const (
	// DefaultWorkers is the default size of the per-entry worker pool.
	DefaultWorkers = 4

	// DefaultMaxAttempts bounds retries of every model call and of every
	// transform or extraction that fails validation.
	DefaultMaxAttempts = 3

	// DefaultReopenWindowDays is used when registry.recurrence is reopen_within.
	DefaultReopenWindowDays = 90
)

// Config holds all configuration for parsehealthlog.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	Claude     ClaudeConfig     `mapstructure:"claude"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`
}

// InputConfig locates the health log and its side data.
type InputConfig struct {
	LogPath    string   `mapstructure:"log_path"`
	LabsPaths  []string `mapstructure:"labs_paths"`
	PromptsDir string   `mapstructure:"prompts_dir"`
}

// OutputConfig locates the artifact directory.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int64         `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	masked := maskSecret(c.APIKey)
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s, MaxTokens:%d, Timeout:%s}", masked, c.Model, c.MaxTokens, c.Timeout)
}

// maskSecret shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskSecret(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// ProcessingConfig tunes the per-entry pipeline.
type ProcessingConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	StrictFacts    bool          `mapstructure:"strict_facts"`
}

// RegistryConfig selects the identity policies of the entity registry.
type RegistryConfig struct {
	DosagePolicy     string `mapstructure:"dosage_policy"`
	Recurrence       string `mapstructure:"recurrence"`
	ReopenWindowDays int    `mapstructure:"reopen_window_days"`
}

// Options converts the configuration into registry options.
func (c RegistryConfig) Options() (registry.Options, error) {
	dosage := registry.DosagePolicy(c.DosagePolicy)
	if !dosage.IsValid() {
		return registry.Options{}, fmt.Errorf("registry.dosage_policy %q must be %q or %q", c.DosagePolicy, registry.DosageIgnore, registry.DosageDistinct)
	}
	rec, err := registry.ParseRecurrence(c.Recurrence, c.ReopenWindowDays)
	if err != nil {
		return registry.Options{}, fmt.Errorf("registry.recurrence: %w", err)
	}
	return registry.Options{Dosage: dosage, Recurrence: rec}, nil
}

// Neo4jConfig holds the graph export target.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// String returns a safe representation of Neo4jConfig with the password masked.
func (c Neo4jConfig) String() string {
	return fmt.Sprintf("Neo4jConfig{URI:%s, Username:%s, Password:%s, Database:%s}", c.URI, c.Username, maskSecret(c.Password), c.Database)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".parsehealthlog"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("PARSEHEALTHLOG")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("input.log_path", "PARSEHEALTHLOG_LOG_PATH", "HEALTH_LOG_PATH")
	_ = v.BindEnv("output.dir", "PARSEHEALTHLOG_OUTPUT_DIR", "OUTPUT_PATH")
	_ = v.BindEnv("processing.workers", "PARSEHEALTHLOG_WORKERS", "MAX_WORKERS")
	_ = v.BindEnv("neo4j.uri", "PARSEHEALTHLOG_NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "PARSEHEALTHLOG_NEO4J_PASSWORD")
	_ = v.BindEnv("api.listen_addr", "PARSEHEALTHLOG_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "PARSEHEALTHLOG_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK: use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.log_path", "health.md")
	v.SetDefault("input.labs_paths", []string{})
	v.SetDefault("input.prompts_dir", "")

	v.SetDefault("output.dir", "output")

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claude.max_tokens", 4096)
	v.SetDefault("claude.timeout", 2*time.Minute)

	v.SetDefault("processing.workers", DefaultWorkers)
	v.SetDefault("processing.max_attempts", DefaultMaxAttempts)
	v.SetDefault("processing.initial_backoff", time.Second)
	v.SetDefault("processing.call_timeout", 10*time.Minute)
	v.SetDefault("processing.strict_facts", false)

	v.SetDefault("registry.dosage_policy", string(registry.DosageIgnore))
	v.SetDefault("registry.recurrence", registry.NewEpisode{}.Name())
	v.SetDefault("registry.reopen_window_days", DefaultReopenWindowDays)

	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// Validate checks that required configuration fields are set and consistent.
// The Claude API key is checked by the commands that call the model.
func (c *Config) Validate() error {
	if c.Input.LogPath == "" {
		return fmt.Errorf("input.log_path must not be empty")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}
	if c.Claude.Model == "" {
		return fmt.Errorf("claude.model must not be empty")
	}
	if c.Claude.MaxTokens <= 0 {
		return fmt.Errorf("claude.max_tokens must be greater than 0")
	}
	if c.Processing.Workers <= 0 {
		return fmt.Errorf("processing.workers must be greater than 0")
	}
	if c.Processing.MaxAttempts <= 0 {
		return fmt.Errorf("processing.max_attempts must be greater than 0")
	}
	if c.Processing.InitialBackoff < 0 {
		return fmt.Errorf("processing.initial_backoff must be >= 0")
	}
	if c.Processing.CallTimeout < 0 {
		return fmt.Errorf("processing.call_timeout must be >= 0")
	}
	if c.Registry.ReopenWindowDays < 0 {
		return fmt.Errorf("registry.reopen_window_days must be >= 0")
	}
	if _, err := c.Registry.Options(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsilva/parsehealthlog/internal/registry"
)

// validCfg returns a fully-valid Config for mutation testing.
func validCfg() *Config {
	return &Config{
		Input:  InputConfig{LogPath: "health.md"},
		Output: OutputConfig{Dir: "output"},
		Claude: ClaudeConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 4096},
		Processing: ProcessingConfig{
			Workers:     4,
			MaxAttempts: 3,
		},
		Registry: RegistryConfig{DosagePolicy: "ignore", Recurrence: "new_episode"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty log path", func(c *Config) { c.Input.LogPath = "" }, "input.log_path"},
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"zero workers", func(c *Config) { c.Processing.Workers = 0 }, "processing.workers"},
		{"zero attempts", func(c *Config) { c.Processing.MaxAttempts = 0 }, "processing.max_attempts"},
		{"negative timeout", func(c *Config) { c.Processing.CallTimeout = -time.Second }, "processing.call_timeout"},
		{"unknown dosage policy", func(c *Config) { c.Registry.DosagePolicy = "sometimes" }, "registry.dosage_policy"},
		{"unknown recurrence", func(c *Config) { c.Registry.Recurrence = "forever" }, "registry.recurrence"},
		{"negative window", func(c *Config) { c.Registry.ReopenWindowDays = -1 }, "reopen_window_days"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validCfg()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistryOptions(t *testing.T) {
	opts, err := RegistryConfig{DosagePolicy: "distinct", Recurrence: "reopen_within", ReopenWindowDays: 30}.Options()
	require.NoError(t, err)
	assert.Equal(t, registry.DosageDistinct, opts.Dosage)
	assert.Equal(t, registry.ReopenWithin{Days: 30}, opts.Recurrence)
}

func TestClaudeConfigString_MasksKey(t *testing.T) {
	c := ClaudeConfig{APIKey: "sk-ant-1234567890abcdef", Model: "m"}
	s := c.String()
	assert.NotContains(t, s, "1234567890")
	assert.True(t, strings.Contains(s, "sk-a****cdef"))

	assert.Contains(t, ClaudeConfig{APIKey: "short"}.String(), "***")
	assert.NotContains(t, Neo4jConfig{Password: "supersecretpassword"}.String(), "supersecret")
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key-0000")
	t.Setenv("PARSEHEALTHLOG_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key-0000", cfg.Claude.APIKey)
	assert.Equal(t, 8, cfg.Processing.Workers)
	assert.Equal(t, DefaultMaxAttempts, cfg.Processing.MaxAttempts)
	assert.Equal(t, "health.md", cfg.Input.LogPath)
	assert.Equal(t, 10*time.Minute, cfg.Processing.CallTimeout)
	assert.Equal(t, "ignore", cfg.Registry.DosagePolicy)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	content := `input:
  log_path: journal.md
  labs_paths: [labs.csv]
registry:
  dosage_policy: distinct
  recurrence: reopen_within
  reopen_window_days: 14
processing:
  call_timeout: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "journal.md", cfg.Input.LogPath)
	assert.Equal(t, []string{"labs.csv"}, cfg.Input.LabsPaths)
	assert.Equal(t, 30*time.Second, cfg.Processing.CallTimeout)
	opts, err := cfg.Registry.Options()
	require.NoError(t, err)
	assert.Equal(t, "dosage=distinct;recurrence=reopen_within:14", opts.Fingerprint())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("registry:\n  dosage_policy: maybe\n"), 0o600))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}

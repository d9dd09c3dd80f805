package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hamnix configuration shared by the kernel and the shell.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Shell   ShellConfig   `yaml:"shell"`
	Logging LoggingConfig `yaml:"logging"`
}

// KernelConfig configures the kernel service.
type KernelConfig struct {
	SocketPath string `yaml:"socket_path"`
	StoreDir   string `yaml:"store_dir"`
	AuditLog   string `yaml:"audit_log"` // empty disables the task audit log
}

// OracleConfig configures the synthesis oracle backend and the retry policy
// applied around it.
type OracleConfig struct {
	Provider       string  `yaml:"provider"` // openai, gemini, exec, none
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Command        string  `yaml:"command"` // exec provider only
	Timeout        string  `yaml:"timeout"`
	MaxAttempts    int     `yaml:"max_attempts"`
	RetryDelay     string  `yaml:"retry_delay"`
	FallbackStub   bool    `yaml:"fallback_stub"`
	Interpreter    string  `yaml:"interpreter"`
	ValidateSyntax bool    `yaml:"validate_syntax"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

// ShellConfig configures hamsh.
type ShellConfig struct {
	ContextID          string `yaml:"context_id"` // empty means one fresh context per session
	RequestTimeout     string `yaml:"request_timeout"`
	ConnectRetries     int    `yaml:"connect_retries"`
	RetryBackoff       string `yaml:"retry_backoff"`
	EscalationExitCode int    `yaml:"escalation_exit_code"`
	EnvFile            string `yaml:"env_file"`
	HistoryFile        string `yaml:"history_file"`
	MaxJobs            int    `yaml:"max_jobs"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			SocketPath: "/tmp/hamnix_kernel.sock",
			StoreDir:   "./abin",
		},
		Oracle: OracleConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			BaseURL:        "https://api.openai.com/v1",
			Timeout:        "120s",
			MaxAttempts:    3,
			RetryDelay:     "0s",
			FallbackStub:   true,
			Interpreter:    "/usr/bin/env python3",
			ValidateSyntax: true,
			MaxTokens:      2048,
			Temperature:    0.2,
		},
		Shell: ShellConfig{
			RequestTimeout:     "30s",
			ConnectRetries:     3,
			RetryBackoff:       "1s",
			EscalationExitCode: 2,
			EnvFile:            "/tmp/hamnix_env_update.json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "hamnix", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hamnix.yaml"
	}
	return filepath.Join(home, ".config", "hamnix", "config.yaml")
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv applies environment variable overrides.
func (c *Config) ApplyEnv() {
	if val := os.Getenv("HAMNIX_SOCKET"); val != "" {
		c.Kernel.SocketPath = val
	}
	if val := os.Getenv("HAMNIX_STORE_DIR"); val != "" {
		c.Kernel.StoreDir = val
	}
	if val := os.Getenv("HAMNIX_CONTEXT"); val != "" {
		c.Shell.ContextID = val
	}
	if val := os.Getenv("HAMNIX_ORACLE"); val != "" {
		c.Oracle.Provider = val
	}
	if val := os.Getenv("HAMNIX_MODEL"); val != "" {
		c.Oracle.Model = val
	}
	if val := os.Getenv("HAMNIX_ORACLE_URL"); val != "" {
		c.Oracle.BaseURL = val
	}
	if val := os.Getenv("HAMNIX_ORACLE_COMMAND"); val != "" {
		c.Oracle.Command = val
	}
	if c.Oracle.APIKey == "" {
		switch c.Oracle.Provider {
		case "gemini":
			c.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
		case "openai":
			c.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if val := os.Getenv("HAMNIX_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("HAMNIX_FALLBACK_STUB"); val != "" {
		if parsed, err := parseBool(val); err == nil {
			c.Oracle.FallbackStub = parsed
		}
	}
	if val := os.Getenv("HAMNIX_MAX_ATTEMPTS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.Oracle.MaxAttempts = parsed
		}
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Kernel.SocketPath == "" {
		return fmt.Errorf("kernel.socket_path is required")
	}
	if c.Kernel.StoreDir == "" {
		return fmt.Errorf("kernel.store_dir is required")
	}
	switch c.Oracle.Provider {
	case "openai", "gemini", "none":
	case "exec":
		if c.Oracle.Command == "" {
			return fmt.Errorf("oracle.command is required for the exec provider")
		}
	default:
		return fmt.Errorf("unknown oracle provider: %s", c.Oracle.Provider)
	}
	if c.Oracle.MaxAttempts < 1 || c.Oracle.MaxAttempts > 10 {
		return fmt.Errorf("oracle.max_attempts must be between 1 and 10")
	}
	if c.Shell.ConnectRetries < 1 || c.Shell.ConnectRetries > 20 {
		return fmt.Errorf("shell.connect_retries must be between 1 and 20")
	}
	if c.Shell.EscalationExitCode <= 0 || c.Shell.EscalationExitCode > 255 {
		return fmt.Errorf("shell.escalation_exit_code must be between 1 and 255")
	}
	if c.Shell.MaxJobs < 0 {
		return fmt.Errorf("shell.max_jobs must not be negative")
	}
	for name, val := range map[string]string{
		"oracle.timeout":        c.Oracle.Timeout,
		"oracle.retry_delay":    c.Oracle.RetryDelay,
		"shell.request_timeout": c.Shell.RequestTimeout,
		"shell.retry_backoff":   c.Shell.RetryBackoff,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// GetOracleTimeout returns the per-call oracle timeout.
func (c *Config) GetOracleTimeout() time.Duration {
	return parseDurationOr(c.Oracle.Timeout, 120*time.Second)
}

// GetRetryDelay returns the base delay between synthesis attempts.
func (c *Config) GetRetryDelay() time.Duration {
	return parseDurationOr(c.Oracle.RetryDelay, 0)
}

// GetRequestTimeout returns how long a shell waits for one kernel response.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.Shell.RequestTimeout, 30*time.Second)
}

// GetRetryBackoff returns the pause between kernel reconnect attempts.
func (c *Config) GetRetryBackoff() time.Duration {
	return parseDurationOr(c.Shell.RetryBackoff, time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on", "enable", "enabled":
		return true, nil
	case "false", "0", "no", "off", "disable", "disabled":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HAMNIX_SOCKET", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Kernel.SocketPath, cfg.Kernel.SocketPath)
	assert.Equal(t, 3, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 2, cfg.Shell.EscalationExitCode)
	assert.Equal(t, 30*time.Second, cfg.GetRequestTimeout())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
kernel:
  socket_path: /tmp/from-file.sock
  store_dir: /tmp/abin
oracle:
  provider: exec
  command: /usr/local/bin/gen
  max_attempts: 5
shell:
  request_timeout: 5s
  escalation_exit_code: 42
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("HAMNIX_STORE_DIR", "/tmp/from-env")
	t.Setenv("HAMNIX_FALLBACK_STUB", "off")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-file.sock", cfg.Kernel.SocketPath)
	assert.Equal(t, "/tmp/from-env", cfg.Kernel.StoreDir)
	assert.Equal(t, "exec", cfg.Oracle.Provider)
	assert.Equal(t, 5, cfg.Oracle.MaxAttempts)
	assert.False(t, cfg.Oracle.FallbackStub)
	assert.Equal(t, 42, cfg.Shell.EscalationExitCode)
	assert.Equal(t, 5*time.Second, cfg.GetRequestTimeout())
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Shell.ConnectRetries)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
shell:
  connect_retries: -3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shell.connect_retries")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Oracle.Provider = "magic" }},
		{"exec without command", func(c *Config) { c.Oracle.Provider = "exec" }},
		{"zero attempts", func(c *Config) { c.Oracle.MaxAttempts = 0 }},
		{"escalation code out of range", func(c *Config) { c.Shell.EscalationExitCode = 300 }},
		{"bad duration", func(c *Config) { c.Shell.RequestTimeout = "soon" }},
		{"negative job cap", func(c *Config) { c.Shell.MaxJobs = -1 }},
		{"negative connect retries", func(c *Config) { c.Shell.ConnectRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Shell.ContextID = "work"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "work", loaded.Shell.ContextID)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvConfigPath, "DB_URL", "RABBITMQ_URL", "LOG_LEVEL", "LOG_FORMAT",
		"COMPOSER_EXEC_TIMEOUT", "COMPOSER_INHERIT_ENV", "API_PORT", "WORKER_PORT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.ExecTimeout())
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, ":8080", cfg.APIAddr())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Compiler.InheritEnv)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "composer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
compiler:
  exec_timeout: 250ms
  library_aliases: [openwhisk-composer]
  inherit_env: false
api:
  port: 9090
worker:
  poll_interval: 1s
log:
  level: DEBUG
  format: text
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.ExecTimeout())
	assert.Equal(t, []string{"openwhisk-composer"}, cfg.Compiler.LibraryAliases)
	assert.False(t, cfg.Compiler.InheritEnv)
	assert.Equal(t, ":9090", cfg.APIAddr())
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, "DEBUG", cfg.Log.Level)

	// Незаданные секции остаются по умолчанию.
	assert.Equal(t, 50, cfg.Worker.BatchSize)
}

func TestLoad_PathFromEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "composer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  port: 7000\n"), 0o644))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.API.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "composer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  port: 7000\n"), 0o644))

	t.Setenv("API_PORT", "7100")
	t.Setenv("DB_URL", "postgres://override")
	t.Setenv("COMPOSER_EXEC_TIMEOUT", "2s")
	t.Setenv("COMPOSER_INHERIT_ENV", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.API.Port)
	assert.Equal(t, "postgres://override", cfg.Database.URL)
	assert.Equal(t, 2*time.Second, cfg.ExecTimeout())
	assert.False(t, cfg.Compiler.InheritEnv)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "api: [1, 2"},
		{name: "bad timeout", yaml: "compiler:\n  exec_timeout: soon\n"},
		{name: "bad format", yaml: "log:\n  format: xml\n"},
		{name: "bad port env", env: map[string]string{"API_PORT": "http"}},
		{name: "bad inherit env", env: map[string]string{"COMPOSER_INHERIT_ENV": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "composer.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

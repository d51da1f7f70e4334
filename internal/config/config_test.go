package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "http://localhost:8000", cfg.Realtime.BaseURL)
	assert.Equal(t, 3000, cfg.Realtime.ReconnectDelayMs)
	assert.Equal(t, 400, cfg.Realtime.MinComposingMs)
	assert.Equal(t, "sqlite", cfg.Storage.Store)
	assert.Equal(t, 500, cfg.Storage.DebounceMs)
	assert.Equal(t, 20, cfg.Pagination.PageSize)
	assert.Equal(t, "info", cfg.Logging.Level)

	planning := cfg.Realtime.Kinds[KindPlanning]
	assert.Equal(t, 30000, planning.HeartbeatIntervalMs)
	assert.Equal(t, []int{1008, 1011}, planning.PermanentCloseCodes)

	profiling := cfg.Realtime.Kinds[KindProfiling]
	assert.Equal(t, "/ws/profiling/{sessionId}", profiling.Endpoint)
	assert.Equal(t, "progress", profiling.Aliases["profiling_progress"])
	assert.Zero(t, profiling.HeartbeatIntervalMs)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, "http://localhost:8000", cfg.Realtime.BaseURL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
user:
  id: u-42
  displayName: Ada
realtime:
  baseUrl: https://trips.example.com
  reconnectDelayMs: 1500
  kinds:
    planning:
      heartbeatIntervalMs: 10000
api:
  baseUrl: https://trips.example.com
  retryMax: 4
storage:
  store: memory
pagination:
  pageSize: 50
logging:
  level: debug
  consoleStyle: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "u-42", cfg.User.ID)
	assert.Equal(t, "Ada", cfg.User.DisplayName)
	assert.Equal(t, "https://trips.example.com", cfg.Realtime.BaseURL)
	assert.Equal(t, 1500, cfg.Realtime.ReconnectDelayMs)
	assert.Equal(t, 4, cfg.API.RetryMax)
	assert.Equal(t, "memory", cfg.Storage.Store)
	assert.Equal(t, 50, cfg.Pagination.PageSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)

	// Partially overridden kind keeps the built-in fields it didn't set.
	planning := cfg.Realtime.Kinds[KindPlanning]
	assert.Equal(t, 10000, planning.HeartbeatIntervalMs)
	assert.Equal(t, "/ws/planning/{sessionId}", planning.Endpoint)
	assert.Equal(t, []int{1008, 1011}, planning.PermanentCloseCodes)

	// Kinds absent from the file are still present.
	assert.Contains(t, cfg.Realtime.Kinds, KindProfiling)
	assert.Contains(t, cfg.Realtime.Kinds, KindBrainstorm)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WAYFARER_REALTIME_URL", "https://rt.example.com")
	t.Setenv("WAYFARER_USER_ID", "env-user")
	t.Setenv("WAYFARER_RECONNECT_DELAY_MS", "250")
	t.Setenv("WAYFARER_LOG_LEVEL", "TRACE")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "https://rt.example.com", cfg.Realtime.BaseURL)
	assert.Equal(t, "env-user", cfg.User.ID)
	assert.Equal(t, 250, cfg.Realtime.ReconnectDelayMs)
	assert.Equal(t, "trace", cfg.Logging.Level)
}

func TestLoadExpandsReferences(t *testing.T) {
	t.Setenv("TRIP_HOST", "trips.internal:9000")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  baseUrl: http://${TRIP_HOST}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://trips.internal:9000", cfg.API.BaseURL)
}

func TestValidateValid(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidateInvalidStore(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Store = "redis"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "storage.store", issues[0].Path)
}

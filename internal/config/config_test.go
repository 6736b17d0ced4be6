package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.ShelfMovePolicy.MaxRetries)
	assert.Equal(t, 2, cfg.NavigationPolicy.MaxRetries)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.MoveShelf)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.ReturnHome)
	assert.Equal(t, 3*time.Second, cfg.ShelfMonitor.PollInterval)
	assert.Equal(t, ":8080", cfg.HTTP.BindAddress)
	assert.Equal(t, 9464, cfg.Observability.PrometheusPort)
	assert.Equal(t, []string{"robot-1"}, cfg.Robots)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	t.Setenv("BIOPATROL_HTTP_BIND_ADDRESS", ":9090")
	t.Setenv("BIOPATROL_OBSERVABILITY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.BindAddress)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	content := `{"dispatcher": {"queue_capacity": 42}, "retry": {"shelf_move": {"max_retries": 5}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "biopatrol-config.json"), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Dispatcher.QueueCapacity)
	assert.Equal(t, 5, cfg.ShelfMovePolicy.MaxRetries)
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(prev) }
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFleetConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "wbfleet.yaml")

	content := `
worker_pool_size: 25
task_staleness:
  taskCardsList: "12h"
  taskAdvert: "6h"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFleetConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 25, cfg.WorkerPoolSize)
	assert.Equal(t, "12h", cfg.TaskStaleness["taskCardsList"])
	assert.Equal(t, "6h", cfg.TaskStaleness["taskAdvert"])
}

func TestLoadFleetConfig_MissingFile(t *testing.T) {
	cfg, err := LoadFleetConfig("/nonexistent/path/wbfleet.yaml")

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultWorkerPoolSize, cfg.WorkerPoolSize)
	assert.Empty(t, cfg.TaskStaleness)
}

func TestLoadFleetConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "wbfleet.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("worker_pool_size: [broken"), 0644))

	cfg, err := LoadFleetConfig(configPath)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultWorkerPoolSize, cfg.WorkerPoolSize)
}

func TestLoadFleetConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "wbfleet.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte(""), 0644))

	cfg, err := LoadFleetConfig(configPath)

	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPoolSize, cfg.WorkerPoolSize)
}

func TestLoadFleetConfig_ZeroPoolSizeFallsBackToDefault(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "wbfleet.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("worker_pool_size: 0"), 0644))

	cfg, err := LoadFleetConfig(configPath)

	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPoolSize, cfg.WorkerPoolSize)
}

func TestLoadFleetConfigFromEnv_CustomPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-fleet.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("worker_pool_size: 7"), 0644))
	t.Setenv(FleetConfigPathEnvVar, configPath)

	cfg, err := LoadFleetConfigFromEnv()

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.WorkerPoolSize)
}

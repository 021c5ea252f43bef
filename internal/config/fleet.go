package config

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFleetConfigPath is the optional YAML overlay file checked next
	// to the binary's working directory.
	DefaultFleetConfigPath = ".wbfleet.yaml"

	// FleetConfigPathEnvVar overrides DefaultFleetConfigPath.
	FleetConfigPathEnvVar = "WBFLEET_CONFIG_PATH"

	// DefaultWorkerPoolSize mirrors the Python worker's MAX_STORES_VALUE.
	DefaultWorkerPoolSize = 15
)

// FleetConfig holds the tuning knobs operators can override without a
// redeploy: how many stores a single worker process holds concurrently, and
// a per-task staleness map. TaskStaleness is loaded from the file, but no
// task reads it; each task uses its built-in window.
type FleetConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size"`

	//nolint:tagliatelle // snake_case matches the rest of the fleet config file
	TaskStaleness map[string]string `yaml:"task_staleness"`
}

// LoadFleetConfig loads the YAML overlay at path.
//
// Behavior:
//   - Missing file is not an error - every knob keeps its default.
//   - Invalid YAML logs a warning and falls back to defaults, same as a
//     missing file, so a typo in this optional file can never take a fleet
//     process down.
func LoadFleetConfig(path string) (*FleetConfig, error) {
	cfg := &FleetConfig{
		WorkerPoolSize: DefaultWorkerPoolSize,
		TaskStaleness:  map[string]string{},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted deployment config
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read fleet config, using defaults",
				slog.String("path", path), slog.String("error", err.Error()))
		}

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("failed to parse fleet config, using defaults",
			slog.String("path", path), slog.String("error", err.Error()))

		return &FleetConfig{WorkerPoolSize: DefaultWorkerPoolSize, TaskStaleness: map[string]string{}}, nil
	}

	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DefaultWorkerPoolSize
	}

	if cfg.TaskStaleness == nil {
		cfg.TaskStaleness = map[string]string{}
	}

	return cfg, nil
}

// LoadFleetConfigFromEnv loads the overlay from the path named by
// FleetConfigPathEnvVar, defaulting to DefaultFleetConfigPath.
func LoadFleetConfigFromEnv() (*FleetConfig, error) {
	path := GetEnvStr(FleetConfigPathEnvVar, DefaultFleetConfigPath)

	return LoadFleetConfig(path)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/speedwaylabs/speedway/internal/models"
)

// DefaultTaskConfig returns a TaskConfig with default values.
func DefaultTaskConfig() models.TaskConfig {
	return models.TaskConfig{
		Version:  "1.0",
		SpecFile: "SPEC.md",
		Agent: models.AgentPhaseConfig{
			TimeoutSec: 3600.0,
		},
		Service: models.ServicePhaseConfig{
			StartCommand:      "bash run.sh",
			HealthzPath:       "/healthz",
			HealthzTimeoutSec: 120.0,
			GracePeriodSec:    5.0,
		},
		Suite: models.SuitePhaseConfig{
			TestCommand: "pytest tests -v --tb=short -x",
			TimeoutSec:  300.0,
		},
	}
}

// LoadTaskConfig loads a task.toml from the task directory. A missing file
// yields the defaults; a malformed file is an error.
func LoadTaskConfig(taskDir string) (models.TaskConfig, error) {
	cfg := DefaultTaskConfig()

	data, err := os.ReadFile(filepath.Join(taskDir, "task.toml"))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading task.toml: %w", err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing task.toml: %w", err)
	}

	return cfg, nil
}

// ValidateTaskDir checks that a task directory has the structure a run needs.
func ValidateTaskDir(taskDir string, cfg models.TaskConfig) error {
	if _, err := os.Stat(filepath.Join(taskDir, cfg.SpecFile)); err != nil {
		return fmt.Errorf("task %s: %s not found: %w", filepath.Base(taskDir), cfg.SpecFile, err)
	}
	if _, err := os.Stat(filepath.Join(taskDir, "tests")); err != nil {
		return fmt.Errorf("task %s: tests directory not found: %w", filepath.Base(taskDir), err)
	}
	return nil
}

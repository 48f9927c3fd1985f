package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/speedwaylabs/speedway/internal/models"
)

// DefaultJobConfig returns a JobConfig with default values.
func DefaultJobConfig() models.JobConfig {
	return models.JobConfig{
		TasksDir:      "tasks",
		RunsDir:       "runs",
		ResultsDir:    "results",
		Repetitions:   1,
		Concurrency:   1,
		AppendRetries: 3,
	}
}

// LoadJobConfig loads and parses a job.yaml file.
func LoadJobConfig(path string) (models.JobConfig, error) {
	cfg := DefaultJobConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading job config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing job config: %w", err)
	}

	if err := ValidateJobConfig(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ValidateJobConfig checks the invariants the orchestrator depends on.
func ValidateJobConfig(cfg models.JobConfig) error {
	if len(cfg.Tasks) == 0 {
		return fmt.Errorf("job config: at least one task is required")
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("job config: at least one agent is required")
	}
	for i, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("job config: agents[%d]: name is required", i)
		}
		if a.Model == "" {
			return fmt.Errorf("job config: agents[%d] (%s): model is required", i, a.Name)
		}
	}
	if cfg.Repetitions < 1 {
		return fmt.Errorf("job config: repetitions must be >= 1, got %d", cfg.Repetitions)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("job config: concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.AppendRetries < 0 {
		return fmt.Errorf("job config: append_retries must be >= 0, got %d", cfg.AppendRetries)
	}
	return nil
}

package models

// TaskConfig represents the parsed task.toml configuration for one benchmark
// task. Every field has a default; a task directory without a task.toml is
// valid.
type TaskConfig struct {
	Version  string         `toml:"version"`
	Metadata map[string]any `toml:"metadata,omitempty"`
	Agent    AgentPhaseConfig   `toml:"agent"`
	Service  ServicePhaseConfig `toml:"service"`
	Suite    SuitePhaseConfig   `toml:"suite"`
	SpecFile string         `toml:"spec_file"`
}

type AgentPhaseConfig struct {
	TimeoutSec float64 `toml:"timeout_sec"` // default: 3600.0
}

type ServicePhaseConfig struct {
	StartCommand      string  `toml:"start_command"`       // default: "bash run.sh"
	HealthzPath       string  `toml:"healthz_path"`        // default: "/healthz"
	HealthzTimeoutSec float64 `toml:"healthz_timeout_sec"` // default: 120.0
	GracePeriodSec    float64 `toml:"grace_period_sec"`    // default: 5.0
}

type SuitePhaseConfig struct {
	TestCommand string  `toml:"test_command"` // default: "pytest tests -v --tb=short -x"
	TimeoutSec  float64 `toml:"timeout_sec"`  // default: 300.0
}

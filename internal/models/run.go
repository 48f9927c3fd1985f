package models

import "time"

// ExperimentRun is the mutable state of one execution of an ExperimentSpec.
// It is owned by exactly one worker goroutine; other goroutines only ever see
// value copies taken under the orchestrator's registry lock.
type ExperimentRun struct {
	ID      string         `json:"id"`
	Spec    ExperimentSpec `json:"spec"`
	Attempt int            `json:"attempt"`

	Status Status `json:"status"`

	QueuedAt        time.Time `json:"queued_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	AgentFinishedAt time.Time `json:"agent_finished_at,omitzero"`
	ServiceReadyAt  time.Time `json:"service_ready_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`

	RunDir  string `json:"run_dir,omitempty"`
	Workdir string `json:"workdir,omitempty"`
	Port    int    `json:"port,omitempty"`

	AgentLog   string `json:"agent_log,omitempty"`
	ServiceLog string `json:"service_log,omitempty"`
	TestLog    string `json:"test_log,omitempty"`

	TestsPassed int `json:"tests_passed"`
	TestsFailed int `json:"tests_failed"`
	TestsTotal  int `json:"tests_total"`

	ErrorType    ErrorType `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	DurationSec float64 `json:"duration_sec"`
}

// Record flattens a terminal run into its durable form.
func (r *ExperimentRun) Record() ResultRecord {
	return ResultRecord{
		RunID:        r.ID,
		Task:         r.Spec.Task,
		Agent:        r.Spec.Agent,
		Model:        r.Spec.Model,
		Language:     r.Spec.Language,
		Constraints:  r.Spec.Constraints,
		Attempt:      r.Attempt,
		Status:       r.Status,
		ErrorType:    r.ErrorType,
		ErrorMessage: r.ErrorMessage,
		TestsPassed:  r.TestsPassed,
		TestsFailed:  r.TestsFailed,
		TestsTotal:   r.TestsTotal,
		DurationSec:  r.DurationSec,
		QueuedAt:     r.QueuedAt,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

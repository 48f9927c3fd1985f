package models

import "time"

// ResultRecord is the durable snapshot of a terminal run: one self-delimited
// JSON object per line in the results log, written once and never rewritten.
type ResultRecord struct {
	RunID        string    `json:"run_id"`
	Task         string    `json:"task"`
	Agent        string    `json:"agent"`
	Model        string    `json:"model"`
	Language     string    `json:"language,omitempty"`
	Constraints  []string  `json:"constraints,omitempty"`
	Attempt      int       `json:"attempt"`
	Status       Status    `json:"status"`
	ErrorType    ErrorType `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TestsPassed  int       `json:"tests_passed"`
	TestsFailed  int       `json:"tests_failed"`
	TestsTotal   int       `json:"tests_total"`
	DurationSec  float64   `json:"duration_sec"`
	QueuedAt     time.Time `json:"queued_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at"`
}

// GroupKey returns the record's value for a grouping field, or "" for
// unknown fields. A missing language groups as "none".
func (r ResultRecord) GroupKey(field string) string {
	switch field {
	case "task":
		return r.Task
	case "agent":
		return r.Agent
	case "model":
		return r.Model
	case "language":
		if r.Language == "" {
			return "none"
		}
		return r.Language
	case "status":
		return string(r.Status)
	}
	return ""
}

package models

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ExperimentSpec identifies one point in the experiment matrix. It is
// immutable once created; the derived ID is stable across processes so
// completed work can be matched up after a restart.
type ExperimentSpec struct {
	Task        string   `yaml:"task" json:"task"`
	Agent       string   `yaml:"agent" json:"agent"`
	Model       string   `yaml:"model" json:"model"`
	Language    string   `yaml:"language,omitempty" json:"language,omitempty"`
	Constraints []string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Repetition  int      `yaml:"repetition" json:"repetition"`
}

// ID returns the deterministic experiment identifier: a short sha256 digest
// over the canonical field encoding. Constraint order is significant.
func (s ExperimentSpec) ID() string {
	canonical := strings.Join([]string{
		s.Task,
		s.Agent,
		s.Model,
		s.Language,
		strings.Join(s.Constraints, "\x1f"),
		fmt.Sprintf("%d", s.Repetition),
	}, "\x1e")
	sum := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%x", sum)[:12]
}

// RunID derives the identifier for one execution attempt of this spec.
func (s ExperimentSpec) RunID(attempt int) string {
	return fmt.Sprintf("%s_%d", s.ID(), attempt)
}

package models

// Status is the lifecycle state of an experiment run.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusAgentRunning    Status = "agent_running"
	StatusAgentDone       Status = "agent_done"
	StatusServiceStarting Status = "service_starting"
	StatusServiceReady    Status = "service_ready"
	StatusTesting         Status = "testing"
	StatusPassed          Status = "passed"
	StatusFailed          Status = "failed"
	StatusError           Status = "error"
	StatusTimeout         Status = "timeout"
	StatusCancelled       Status = "cancelled"
)

// phaseRank orders the non-terminal statuses. Terminal statuses have no rank.
var phaseRank = map[Status]int{
	StatusQueued:          0,
	StatusAgentRunning:    1,
	StatusAgentDone:       2,
	StatusServiceStarting: 3,
	StatusServiceReady:    4,
	StatusTesting:         5,
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a run may move from s to next. Non-terminal
// statuses advance one phase at a time; any terminal status may be entered
// from any non-terminal phase, and nothing leaves a terminal status.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	from, ok := phaseRank[s]
	if !ok {
		return false
	}
	to, ok := phaseRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

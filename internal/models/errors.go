package models

// ErrorType identifies the category of failure that ended a run.
type ErrorType string

const (
	// Agent phase
	ErrAgentTimeout ErrorType = "agent_timeout"
	ErrAgentCrashed ErrorType = "agent_crashed"

	// Service phase
	ErrServiceStartFailed   ErrorType = "service_start_failed"
	ErrServiceHealthTimeout ErrorType = "service_health_timeout"

	// Suite phase
	ErrSuiteTimedOut         ErrorType = "suite_timed_out"
	ErrSuiteExecutionError   ErrorType = "suite_execution_error"
	ErrSuiteAssertionsFailed ErrorType = "suite_assertions_failed"

	// Cross-cutting
	ErrCancelled         ErrorType = "cancelled"
	ErrResourceExhausted ErrorType = "resource_exhausted"
	ErrInternalError     ErrorType = "internal_error"
)

// TerminalStatus maps an error category to the terminal status it implies.
func (e ErrorType) TerminalStatus() Status {
	switch e {
	case ErrAgentTimeout, ErrSuiteTimedOut:
		return StatusTimeout
	case ErrSuiteAssertionsFailed:
		return StatusFailed
	case ErrCancelled:
		return StatusCancelled
	default:
		return StatusError
	}
}

package models

import "testing"

func TestStatusTransitions(t *testing.T) {
	order := []Status{
		StatusQueued, StatusAgentRunning, StatusAgentDone,
		StatusServiceStarting, StatusServiceReady, StatusTesting,
	}

	// Each non-terminal status moves forward exactly one step.
	for i := 0; i < len(order)-1; i++ {
		if !order[i].CanTransition(order[i+1]) {
			t.Errorf("%s -> %s should be allowed", order[i], order[i+1])
		}
	}

	// Never backward, never skipping.
	if StatusAgentDone.CanTransition(StatusAgentRunning) {
		t.Error("backward transition allowed")
	}
	if StatusQueued.CanTransition(StatusAgentDone) {
		t.Error("phase skip allowed")
	}

	// Terminal statuses are reachable from any non-terminal status.
	for _, from := range order {
		for _, to := range []Status{StatusPassed, StatusFailed, StatusError, StatusTimeout, StatusCancelled} {
			if !from.CanTransition(to) {
				t.Errorf("%s -> %s should be allowed", from, to)
			}
		}
	}

	// Nothing leaves a terminal status, including cancelled.
	for _, from := range []Status{StatusPassed, StatusFailed, StatusError, StatusTimeout, StatusCancelled} {
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
		if from.CanTransition(StatusCancelled) {
			t.Errorf("%s -> cancelled should be rejected", from)
		}
	}
}

func TestErrorTypeTerminalStatus(t *testing.T) {
	cases := map[ErrorType]Status{
		ErrAgentTimeout:          StatusTimeout,
		ErrAgentCrashed:          StatusError,
		ErrServiceStartFailed:    StatusError,
		ErrServiceHealthTimeout:  StatusError,
		ErrSuiteTimedOut:         StatusTimeout,
		ErrSuiteExecutionError:   StatusError,
		ErrSuiteAssertionsFailed: StatusFailed,
		ErrCancelled:             StatusCancelled,
		ErrResourceExhausted:     StatusError,
		ErrInternalError:         StatusError,
	}
	for errType, want := range cases {
		if got := errType.TerminalStatus(); got != want {
			t.Errorf("%s.TerminalStatus() = %s, want %s", errType, got, want)
		}
	}
}

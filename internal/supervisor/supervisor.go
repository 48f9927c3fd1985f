// Package supervisor launches and terminates child processes. Every child
// runs in its own process group so that termination reaps anything the child
// itself spawned, and all output is streamed straight to log files so that
// logs survive a crash of the orchestrator.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Command describes a child process to launch.
type Command struct {
	Path       string
	Args       []string
	Dir        string
	Env        []string // appended to the parent environment
	StdoutPath string
	StderrPath string
}

// OutcomeState classifies how a wait ended.
type OutcomeState int

const (
	// Exited: the process exited on its own; ExitCode is valid.
	Exited OutcomeState = iota
	// TimedOut: the wait deadline passed and the process was terminated.
	TimedOut
	// Killed: the wait context was cancelled (or the process died by
	// signal) and the process was terminated.
	Killed
)

// ExitOutcome is the result of waiting on a handle.
type ExitOutcome struct {
	State    OutcomeState
	ExitCode int
}

// Handle is a running (or exited) supervised process. Wait and Terminate are
// both safe to call more than once and in any order.
type Handle struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	done    chan struct{} // closed once the process is reaped
	waitErr error

	mu         sync.Mutex
	terminated bool

	grace time.Duration
}

// Start launches the command in a fresh process group, streaming stdout and
// stderr to the named log files. The grace duration bounds how long Terminate
// waits between SIGTERM and SIGKILL.
func Start(cmd Command, grace time.Duration) (*Handle, error) {
	stdout, err := os.OpenFile(cmd.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening stdout log: %w", err)
	}
	stderr := stdout
	if cmd.StderrPath != "" && cmd.StderrPath != cmd.StdoutPath {
		stderr, err = os.OpenFile(cmd.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			stdout.Close()
			return nil, fmt.Errorf("opening stderr log: %w", err)
		}
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = stdout
	c.Stderr = stderr
	// Fresh process group: lets Terminate signal the whole tree, and
	// isolates the child from signals sent to the orchestrator.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		stdout.Close()
		if stderr != stdout {
			stderr.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	h := &Handle{
		cmd:    c,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
		grace:  grace,
	}

	go func() {
		h.waitErr = c.Wait()
		h.stdout.Close()
		if h.stderr != h.stdout {
			h.stderr.Close()
		}
		close(h.done)
	}()

	return h, nil
}

// PID returns the process id of the child.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Exited reports whether the process has been reaped, without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once the process has exited, or -1.
func (h *Handle) ExitCode() int {
	if !h.Exited() {
		return -1
	}
	return h.exitCode()
}

func (h *Handle) exitCode() int {
	if h.waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(h.waitErr, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// Wait blocks until the process exits or ctx ends. When ctx ends first the
// process group is terminated and the outcome reflects why: TimedOut on a
// deadline, Killed on cancellation.
func (h *Handle) Wait(ctx context.Context) ExitOutcome {
	select {
	case <-h.done:
		return h.exitOutcome()
	case <-ctx.Done():
		h.Terminate()
		<-h.done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ExitOutcome{State: TimedOut, ExitCode: h.exitCode()}
		}
		return ExitOutcome{State: Killed, ExitCode: h.exitCode()}
	}
}

func (h *Handle) exitOutcome() ExitOutcome {
	var ee *exec.ExitError
	if errors.As(h.waitErr, &ee) {
		if status, ok := ee.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return ExitOutcome{State: Killed, ExitCode: ee.ExitCode()}
		}
		return ExitOutcome{State: Exited, ExitCode: ee.ExitCode()}
	}
	if h.waitErr != nil {
		return ExitOutcome{State: Killed, ExitCode: -1}
	}
	return ExitOutcome{State: Exited, ExitCode: 0}
}

// Terminate stops the process group: SIGTERM first, then SIGKILL after the
// grace period. It is idempotent and safe on an already-exited handle, and
// blocks until the process has been reaped.
func (h *Handle) Terminate() {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.terminated = true
	h.mu.Unlock()

	if h.Exited() {
		return
	}

	pgid := h.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Debug("sigterm to process group failed", "pgid", pgid, "error", err)
	}

	select {
	case <-h.done:
		return
	case <-time.After(h.grace):
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		slog.Debug("sigkill to process group failed", "pgid", pgid, "error", err)
	}
	<-h.done
}

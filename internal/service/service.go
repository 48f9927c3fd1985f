// Package service starts the artifact an agent produced and confirms it is
// serving before tests run.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/speedwaylabs/speedway/internal/models"
	"github.com/speedwaylabs/speedway/internal/probe"
	"github.com/speedwaylabs/speedway/internal/supervisor"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

// OutcomeState classifies a service start attempt.
type OutcomeState int

const (
	Ready OutcomeState = iota
	StartFailed
	HealthTimeout
	Interrupted
)

// Outcome is the result of a start attempt. Message is human-readable and
// only set on failure.
type Outcome struct {
	State   OutcomeState
	Message string
}

// Runner starts services under test.
type Runner struct {
	Grace         time.Duration
	ProbeInterval time.Duration
}

// Service is a running (or already dead) service under test. The experiment
// state machine owns termination via Stop regardless of test outcome.
type Service struct {
	Port   int
	handle *supervisor.Handle
}

// BaseURL returns the address the test suite should target.
func (s *Service) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port)
}

// Exited reports whether the service process has died.
func (s *Service) Exited() bool { return s.handle.Exited() }

// ExitCode returns the service's exit code, or -1 while it is running.
func (s *Service) ExitCode() int { return s.handle.ExitCode() }

// Stop terminates the service's process group. Idempotent.
func (s *Service) Stop() { s.handle.Terminate() }

// Start launches the workspace's start command with PORT bound and probes the
// health endpoint. The returned Service is non-nil whenever a process was
// started, including on failure, so the caller can always clean up.
func (r *Runner) Start(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (*Service, Outcome) {
	startScript := filepath.Join(ws.Dir, "run.sh")
	if _, err := os.Stat(startScript); err != nil {
		return nil, Outcome{State: StartFailed, Message: "run.sh not found in workspace"}
	}
	if err := os.Chmod(startScript, 0755); err != nil {
		return nil, Outcome{State: StartFailed, Message: fmt.Sprintf("making run.sh executable: %s", err)}
	}

	words, err := shellquote.Split(cfg.StartCommand)
	if err != nil || len(words) == 0 {
		return nil, Outcome{State: StartFailed, Message: fmt.Sprintf("invalid start command %q: %s", cfg.StartCommand, err)}
	}

	dataDir := filepath.Join(ws.Dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, Outcome{State: StartFailed, Message: fmt.Sprintf("creating data dir: %s", err)}
	}

	slog.Info("service starting", "port", port, "command", cfg.StartCommand)

	handle, err := supervisor.Start(supervisor.Command{
		Path: words[0],
		Args: words[1:],
		Dir:  ws.Dir,
		Env: []string{
			fmt.Sprintf("PORT=%d", port),
			fmt.Sprintf("DATA_DIR=%s", dataDir),
		},
		StdoutPath: ws.LogPath("service", "stdout"),
		StderrPath: ws.LogPath("service", "stderr"),
	}, r.Grace)
	if err != nil {
		return nil, Outcome{State: StartFailed, Message: fmt.Sprintf("starting service: %s", err)}
	}

	svc := &Service{Port: port, handle: handle}

	healthCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.HealthzTimeoutSec*float64(time.Second)))
	defer cancel()

	err = probe.Probe(healthCtx, svc.BaseURL(), cfg.HealthzPath, r.ProbeInterval, handle.Exited)
	switch {
	case err == nil:
		slog.Info("service ready", "port", port)
		return svc, Outcome{State: Ready}
	case errors.Is(err, probe.ErrProcessExited):
		// A crashed server will never become healthy; report immediately.
		return svc, Outcome{
			State:   StartFailed,
			Message: fmt.Sprintf("service exited before becoming healthy (exit code %d)", handle.ExitCode()),
		}
	case ctx.Err() != nil:
		return svc, Outcome{State: Interrupted, Message: "service start interrupted"}
	case errors.Is(err, context.DeadlineExceeded):
		return svc, Outcome{
			State:   HealthTimeout,
			Message: fmt.Sprintf("service did not become healthy within %.0fs", cfg.HealthzTimeoutSec),
		}
	default:
		return svc, Outcome{State: StartFailed, Message: err.Error()}
	}
}

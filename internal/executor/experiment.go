// Package executor drives experiment runs through their lifecycle and fans
// them out across a bounded worker pool.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/speedwaylabs/speedway/internal/agent"
	"github.com/speedwaylabs/speedway/internal/models"
	"github.com/speedwaylabs/speedway/internal/service"
	"github.com/speedwaylabs/speedway/internal/suite"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

// taskAssets bundles everything a run needs from its task directory.
type taskAssets struct {
	Name   string
	Dir    string
	Config models.TaskConfig
	Spec   string
}

// serviceProc is the slice of a running service the state machine touches.
type serviceProc interface {
	BaseURL() string
	Exited() bool
	ExitCode() int
	Stop()
}

// runEntry pairs a run's mutable state with its cancellation handle. All
// access to the run goes through the mutex; the owning worker mutates it and
// status queries take value snapshots.
type runEntry struct {
	mu      sync.Mutex
	run     models.ExperimentRun
	cancel  context.CancelFunc
	stopped bool
}

func (e *runEntry) update(fn func(*models.ExperimentRun)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.run)
}

func (e *runEntry) snapshot() models.ExperimentRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// advance moves the run to the next lifecycle phase. Transitions that the
// status machine forbids are suppressed rather than applied.
func (e *runEntry) advance(next models.Status) {
	e.update(func(r *models.ExperimentRun) {
		if !r.Status.CanTransition(next) {
			slog.Warn("suppressing illegal status transition", "run_id", r.ID, "from", r.Status, "to", next)
			return
		}
		r.Status = next
	})
}

// fail ends the run with the terminal status implied by the error category.
// Once a run is terminal no later failure can overwrite it.
func (e *runEntry) fail(t models.ErrorType, msg string) {
	e.update(func(r *models.ExperimentRun) {
		next := t.TerminalStatus()
		if !r.Status.CanTransition(next) {
			return
		}
		r.Status = next
		r.ErrorType = t
		r.ErrorMessage = msg
	})
}

// stop requests cancellation of the run. Safe to call at any time, from any
// goroutine, any number of times; terminal runs ignore it.
func (e *runEntry) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status.IsTerminal() {
		return
	}
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}
}

// pipeline holds the phase implementations the state machine composes. The
// fields are functions so scenario tests can substitute fakes; production
// wiring lives in New.
type pipeline struct {
	workspaces *workspace.Manager
	ports      *workspace.PortAllocator
	agents     *agent.Registry

	loadTask     func(name string) (taskAssets, error)
	runAgent     func(ctx context.Context, ad agent.Adapter, ws *workspace.Workspace, brief agent.Brief, model string, timeout time.Duration) agent.Outcome
	startService func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome)
	runSuite     func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result
}

// execute drives one run from queued to a terminal status. Cleanup is
// centralized in a single deferred block so that every exit path, including
// panics in a phase, releases the port and tears down the service before the
// caller persists the record.
func (p *pipeline) execute(ctx context.Context, entry *runEntry) {
	var (
		svc      serviceProc
		port     int
		portHeld bool
	)

	defer func() {
		if svc != nil {
			svc.Stop()
		}
		if portHeld {
			p.ports.Release(port)
		}
		entry.update(func(r *models.ExperimentRun) {
			if !r.Status.IsTerminal() {
				r.Status = models.StatusError
				r.ErrorType = models.ErrInternalError
				if r.ErrorMessage == "" {
					r.ErrorMessage = "run ended without reaching a terminal status"
				}
			}
			r.FinishedAt = time.Now().UTC()
			if !r.StartedAt.IsZero() {
				r.DurationSec = r.FinishedAt.Sub(r.StartedAt).Seconds()
			}
		})
	}()

	run := entry.snapshot()
	spec := run.Spec

	if ctx.Err() != nil {
		entry.fail(models.ErrCancelled, "cancelled before start")
		return
	}

	assets, err := p.loadTask(spec.Task)
	if err != nil {
		entry.fail(models.ErrInternalError, fmt.Sprintf("loading task %s: %s", spec.Task, err))
		return
	}

	ad, err := p.agents.Get(spec.Agent)
	if err != nil {
		entry.fail(models.ErrInternalError, err.Error())
		return
	}

	entry.update(func(r *models.ExperimentRun) {
		r.StartedAt = time.Now().UTC()
	})
	entry.advance(models.StatusAgentRunning)

	ws, err := p.workspaces.Create(run.ID, spec.Task)
	if err != nil {
		entry.fail(models.ErrResourceExhausted, fmt.Sprintf("creating workspace: %s", err))
		return
	}
	entry.update(func(r *models.ExperimentRun) {
		r.RunDir = ws.RunDir
		r.Workdir = ws.Dir
		r.AgentLog = ws.LogPath("agent", "stdout")
		r.ServiceLog = ws.LogPath("service", "stdout")
		r.TestLog = ws.LogPath("test", "stdout")
	})

	brief := agent.Brief{Spec: assets.Spec, Language: spec.Language, Constraints: spec.Constraints}
	agentTimeout := time.Duration(assets.Config.Agent.TimeoutSec * float64(time.Second))

	out := p.runAgent(ctx, ad, ws, brief, spec.Model, agentTimeout)
	switch out.State {
	case agent.TimedOut:
		entry.fail(models.ErrAgentTimeout, fmt.Sprintf("agent exceeded %.0fs budget", assets.Config.Agent.TimeoutSec))
		return
	case agent.Interrupted:
		entry.fail(models.ErrCancelled, "cancelled during agent phase")
		return
	case agent.Crashed:
		msg := fmt.Sprintf("agent exited with code %d", out.ExitCode)
		if out.Err != nil {
			msg = out.Err.Error()
		}
		entry.fail(models.ErrAgentCrashed, msg)
		return
	}
	entry.update(func(r *models.ExperimentRun) { r.AgentFinishedAt = time.Now().UTC() })
	entry.advance(models.StatusAgentDone)

	if ctx.Err() != nil {
		entry.fail(models.ErrCancelled, "cancelled after agent phase")
		return
	}

	entry.advance(models.StatusServiceStarting)

	// The port is claimed as late as possible so runs that die in the agent
	// phase never hold one.
	port, err = p.ports.Acquire()
	if err != nil {
		entry.fail(models.ErrResourceExhausted, err.Error())
		return
	}
	portHeld = true
	entry.update(func(r *models.ExperimentRun) { r.Port = port })

	var svcOut service.Outcome
	svc, svcOut = p.startService(ctx, ws, port, assets.Config.Service)
	switch svcOut.State {
	case service.StartFailed:
		entry.fail(models.ErrServiceStartFailed, svcOut.Message)
		return
	case service.HealthTimeout:
		entry.fail(models.ErrServiceHealthTimeout, svcOut.Message)
		return
	case service.Interrupted:
		entry.fail(models.ErrCancelled, "cancelled while waiting for service health")
		return
	}
	entry.update(func(r *models.ExperimentRun) { r.ServiceReadyAt = time.Now().UTC() })
	entry.advance(models.StatusServiceReady)

	if ctx.Err() != nil {
		entry.fail(models.ErrCancelled, "cancelled before test phase")
		return
	}
	entry.advance(models.StatusTesting)

	suiteTimeout := time.Duration(assets.Config.Suite.TimeoutSec * float64(time.Second))
	res := p.runSuite(ctx, ws, assets.Dir, assets.Config.Suite.TestCommand, svc.BaseURL(), suiteTimeout)

	entry.update(func(r *models.ExperimentRun) {
		r.TestsPassed = res.Counts.Passed
		r.TestsFailed = res.Counts.Failed
		r.TestsTotal = res.Counts.Total
	})

	switch res.State {
	case suite.Interrupted:
		entry.fail(models.ErrCancelled, "cancelled during test phase")
	case suite.TimedOut:
		entry.fail(models.ErrSuiteTimedOut, res.Message)
	case suite.Passed:
		// A verdict earned against a live service stands even if the
		// service dies in the teardown race that follows.
		entry.advance(models.StatusPassed)
	case suite.Failed, suite.Error:
		if svc.Exited() {
			// Failures observed against a dead server say nothing about
			// the implementation's correctness.
			entry.fail(models.ErrSuiteExecutionError,
				fmt.Sprintf("service crashed during tests (exit code %d)", svc.ExitCode()))
			return
		}
		if res.State == suite.Failed {
			entry.fail(models.ErrSuiteAssertionsFailed, res.Message)
		} else {
			entry.fail(models.ErrSuiteExecutionError, res.Message)
		}
	}
}

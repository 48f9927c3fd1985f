package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/speedwaylabs/speedway/internal/supervisor"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

// OutcomeState classifies how an agent invocation ended.
type OutcomeState int

const (
	Completed OutcomeState = iota
	TimedOut
	Crashed
	Interrupted
)

// Outcome is the result of one agent invocation.
type Outcome struct {
	State       OutcomeState
	DurationSec float64
	ExitCode    int
	Err         error
}

// Runner launches agent CLIs under the process supervisor.
type Runner struct {
	// Grace bounds the SIGTERM-to-SIGKILL window when an agent has to be
	// torn down.
	Grace time.Duration
}

// Run writes the brief into the workspace, invokes the agent CLI with the
// given timeout, and records wall-clock duration. A context cancellation
// (as opposed to the timeout elapsing) yields Interrupted.
func (r *Runner) Run(ctx context.Context, ad Adapter, ws *workspace.Workspace, brief Brief, model string, timeout time.Duration) Outcome {
	if err := ws.WriteFile(PromptFileName, brief.Compose()); err != nil {
		return Outcome{State: Crashed, ExitCode: -1, Err: fmt.Errorf("writing prompt: %w", err)}
	}

	path, args := ad.Command(model)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("agent starting", "agent", ad.Name(), "model", model, "timeout", timeout)
	start := time.Now()

	handle, err := supervisor.Start(supervisor.Command{
		Path:       path,
		Args:       args,
		Dir:        ws.Dir,
		StdoutPath: ws.LogPath("agent", "stdout"),
		StderrPath: ws.LogPath("agent", "stderr"),
	}, r.Grace)
	if err != nil {
		return Outcome{State: Crashed, ExitCode: -1, Err: err}
	}

	out := handle.Wait(runCtx)
	duration := time.Since(start).Seconds()

	switch {
	case out.State == supervisor.TimedOut:
		slog.Warn("agent timed out", "agent", ad.Name(), "after_sec", duration)
		return Outcome{State: TimedOut, DurationSec: duration, ExitCode: out.ExitCode}
	case ctx.Err() != nil:
		return Outcome{State: Interrupted, DurationSec: duration, ExitCode: out.ExitCode}
	case out.State == supervisor.Killed || out.ExitCode != 0:
		slog.Warn("agent crashed", "agent", ad.Name(), "exit_code", out.ExitCode)
		return Outcome{State: Crashed, DurationSec: duration, ExitCode: out.ExitCode}
	}

	slog.Info("agent completed", "agent", ad.Name(), "duration_sec", duration)
	return Outcome{State: Completed, DurationSec: duration, ExitCode: 0}
}

// Package suite executes the black-box test command against a running
// service and classifies the outcome.
package suite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/speedwaylabs/speedway/internal/supervisor"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

// State classifies a suite run.
type State int

const (
	Passed State = iota
	Failed
	Error
	TimedOut
	Interrupted
)

// Counts are the parsed assertion totals.
type Counts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Result is the outcome of one suite execution. The Failed/Error distinction
// is load-bearing: Failed means assertions ran and some failed, Error means
// the suite could not run or its output could not be parsed.
type Result struct {
	State       State
	Counts      Counts
	FailedTests []string
	Message     string
	ExitCode    int
}

// Runner executes test commands under the process supervisor.
type Runner struct {
	Grace time.Duration
}

// ReportFileName is where the test command may drop a machine-readable
// report; when present it takes precedence over stdout parsing.
const ReportFileName = "report.json"

// Run executes testCommand in taskDir with the service's base URL injected
// via environment, bounded by timeout. The suite runs against the pristine
// copy of the tests in the task directory, not the workspace copy the agent
// could have modified.
func (r *Runner) Run(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) Result {
	words, err := shellquote.Split(testCommand)
	if err != nil || len(words) == 0 {
		return Result{State: Error, ExitCode: -1, Message: fmt.Sprintf("invalid test command %q: %s", testCommand, err)}
	}

	reportPath := filepath.Join(ws.RunDir, ReportFileName)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("suite starting", "command", testCommand, "base_url", baseURL)

	handle, err := supervisor.Start(supervisor.Command{
		Path: words[0],
		Args: words[1:],
		Dir:  taskDir,
		Env: []string{
			"SERVICE_URL=" + baseURL,
			"BASE_URL=" + baseURL,
			"TEST_REPORT_FILE=" + reportPath,
		},
		StdoutPath: ws.LogPath("test", "stdout"),
		StderrPath: ws.LogPath("test", "stderr"),
	}, r.Grace)
	if err != nil {
		return Result{State: Error, ExitCode: -1, Message: fmt.Sprintf("starting test command: %s", err)}
	}

	out := handle.Wait(runCtx)

	switch {
	case out.State == supervisor.TimedOut:
		return Result{State: TimedOut, ExitCode: out.ExitCode, Message: fmt.Sprintf("test suite timed out after %s", timeout)}
	case ctx.Err() != nil:
		return Result{State: Interrupted, ExitCode: out.ExitCode, Message: "test suite interrupted"}
	}

	stdout, readErr := os.ReadFile(ws.LogPath("test", "stdout"))
	if readErr != nil {
		stdout = nil
	}

	return classify(out.ExitCode, stdout, reportPath)
}

// classify turns an exit code plus captured output into a Result. The report
// file wins when present; otherwise the runner-style summary is parsed from
// stdout.
func classify(exitCode int, stdout []byte, reportPath string) Result {
	counts, failedTests, parsed := parseReportFile(reportPath)
	if !parsed {
		counts, failedTests, parsed = parseOutput(stdout)
	}

	if exitCode == 0 {
		res := Result{State: Passed, Counts: counts, ExitCode: 0}
		if !parsed {
			// A green exit without counts still passes; totals stay zero.
			res.Message = "suite passed but no test counts could be parsed"
		}
		return res
	}

	if parsed && counts.Total > 0 {
		return Result{
			State:       Failed,
			Counts:      counts,
			FailedTests: failedTests,
			ExitCode:    exitCode,
			Message:     failureMessage(stdout, failedTests),
		}
	}

	return Result{
		State:    Error,
		ExitCode: exitCode,
		Message:  fmt.Sprintf("test suite exited with code %d and produced no parseable report", exitCode),
	}
}

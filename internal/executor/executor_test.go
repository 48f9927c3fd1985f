package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/speedwaylabs/speedway/internal/agent"
	"github.com/speedwaylabs/speedway/internal/config"
	"github.com/speedwaylabs/speedway/internal/models"
	"github.com/speedwaylabs/speedway/internal/results"
	"github.com/speedwaylabs/speedway/internal/service"
	"github.com/speedwaylabs/speedway/internal/suite"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

type fakeService struct {
	mu      sync.Mutex
	exited  bool
	code    int
	stopped bool
}

func (f *fakeService) BaseURL() string { return "http://127.0.0.1:1" }

func (f *fakeService) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeService) ExitCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeService) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.exited = true
}

func (f *fakeService) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// newTestOrchestrator wires an orchestrator whose task loading is faked so no
// task directories need to exist; phase runners are replaced per test.
func newTestOrchestrator(t *testing.T, concurrency int) *Orchestrator {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultJobConfig()
	cfg.TasksDir = filepath.Join(root, "tasks")
	cfg.RunsDir = filepath.Join(root, "runs")
	cfg.ResultsDir = filepath.Join(root, "results")
	cfg.Concurrency = concurrency

	store, err := results.Open(cfg.ResultsDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	o := New(cfg, store)
	o.pipeline.loadTask = func(name string) (taskAssets, error) {
		return taskAssets{
			Name:   name,
			Dir:    filepath.Join(cfg.TasksDir, name),
			Config: config.DefaultTaskConfig(),
			Spec:   "# Task\nBuild the thing.",
		}, nil
	}
	return o
}

func spec(task string, rep int) models.ExperimentSpec {
	return models.ExperimentSpec{Task: task, Agent: "claude-code", Model: "m1", Repetition: rep}
}

func completedAgent(o *Orchestrator) {
	o.pipeline.runAgent = func(ctx context.Context, ad agent.Adapter, ws *workspace.Workspace, brief agent.Brief, model string, timeout time.Duration) agent.Outcome {
		return agent.Outcome{State: agent.Completed, DurationSec: 0.1}
	}
}

func TestRunHappyPath(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	svc := &fakeService{}

	completedAgent(o)
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		return svc, service.Outcome{State: service.Ready}
	}
	o.pipeline.runSuite = func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
		return suite.Result{State: suite.Passed, Counts: suite.Counts{Passed: 10, Total: 10}}
	}

	sum, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("issues", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if !sum.AllPassed() || sum.Total != 1 {
		t.Fatalf("summary = %+v, want 1/1 passed", sum)
	}

	runs := o.Status()
	if len(runs) != 1 {
		t.Fatalf("got %d runs", len(runs))
	}
	run := runs[0]
	if run.Status != models.StatusPassed {
		t.Errorf("Status = %s, want passed (%s)", run.Status, run.ErrorMessage)
	}
	if run.TestsPassed != 10 || run.TestsTotal != 10 {
		t.Errorf("tests = %d/%d, want 10/10", run.TestsPassed, run.TestsTotal)
	}
	if run.Attempt != 1 || !strings.HasSuffix(run.ID, "_1") {
		t.Errorf("attempt = %d, id = %s", run.Attempt, run.ID)
	}
	if run.FinishedAt.IsZero() || run.DurationSec < 0 {
		t.Errorf("timing not recorded: %+v", run)
	}

	if !svc.wasStopped() {
		t.Error("service was not stopped after a passing run")
	}
	if held := o.pipeline.ports.Held(); held != 0 {
		t.Errorf("%d ports still held after job", held)
	}

	if _, err := os.Stat(filepath.Join(run.RunDir, ResultFileName)); err != nil {
		t.Errorf("result.json not written: %s", err)
	}

	records, err := o.store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != models.StatusPassed {
		t.Errorf("persisted records = %+v", records)
	}
}

func TestRunAgentTimeout(t *testing.T) {
	o := newTestOrchestrator(t, 1)

	o.pipeline.runAgent = func(ctx context.Context, ad agent.Adapter, ws *workspace.Workspace, brief agent.Brief, model string, timeout time.Duration) agent.Outcome {
		return agent.Outcome{State: agent.TimedOut, DurationSec: timeout.Seconds()}
	}
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		t.Error("service must not start after an agent timeout")
		return nil, service.Outcome{State: service.StartFailed}
	}

	sum, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("issues", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Timeouts != 1 {
		t.Fatalf("summary = %+v, want 1 timeout", sum)
	}

	run := o.Status()[0]
	if run.Status != models.StatusTimeout || run.ErrorType != models.ErrAgentTimeout {
		t.Errorf("run = %s/%s, want timeout/agent_timeout", run.Status, run.ErrorType)
	}
	if run.Port != 0 {
		t.Errorf("port %d was allocated before the service phase", run.Port)
	}
	if held := o.pipeline.ports.Held(); held != 0 {
		t.Errorf("%d ports held after agent timeout", held)
	}
}

func TestRunServiceStartFailed(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	svc := &fakeService{exited: true, code: 1}

	completedAgent(o)
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		return svc, service.Outcome{State: service.StartFailed, Message: "service exited before becoming healthy (exit code 1)"}
	}
	o.pipeline.runSuite = func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
		t.Error("suite must not run against a service that failed to start")
		return suite.Result{State: suite.Error}
	}

	if _, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("issues", 1)}); err != nil {
		t.Fatal(err)
	}

	run := o.Status()[0]
	if run.Status != models.StatusError || run.ErrorType != models.ErrServiceStartFailed {
		t.Errorf("run = %s/%s, want error/service_start_failed", run.Status, run.ErrorType)
	}
	if !svc.wasStopped() {
		t.Error("dead service handle must still be stopped for cleanup")
	}
	if held := o.pipeline.ports.Held(); held != 0 {
		t.Errorf("%d ports held after start failure", held)
	}
}

func TestRunServiceCrashDuringTests(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	svc := &fakeService{}

	completedAgent(o)
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		return svc, service.Outcome{State: service.Ready}
	}
	o.pipeline.runSuite = func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
		svc.mu.Lock()
		svc.exited = true
		svc.code = 137
		svc.mu.Unlock()
		return suite.Result{State: suite.Failed, Counts: suite.Counts{Passed: 2, Failed: 8, Total: 10}}
	}

	if _, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("issues", 1)}); err != nil {
		t.Fatal(err)
	}

	run := o.Status()[0]
	if run.Status != models.StatusError || run.ErrorType != models.ErrSuiteExecutionError {
		t.Errorf("run = %s/%s, want error/suite_execution_error", run.Status, run.ErrorType)
	}
	if !strings.Contains(run.ErrorMessage, "crashed") {
		t.Errorf("message = %q, want service crash note", run.ErrorMessage)
	}
}

func TestStopMidSuite(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	svc := &fakeService{}
	inSuite := make(chan struct{})

	completedAgent(o)
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		return svc, service.Outcome{State: service.Ready}
	}
	o.pipeline.runSuite = func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
		close(inSuite)
		<-ctx.Done()
		return suite.Result{State: suite.Interrupted, Message: "test suite interrupted"}
	}

	done := make(chan Summary, 1)
	go func() {
		sum, _ := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("issues", 1)})
		done <- sum
	}()

	<-inSuite
	runID := o.Status()[0].ID
	if err := o.Stop(runID); err != nil {
		t.Fatal(err)
	}

	sum := <-done
	if sum.Cancelled != 1 {
		t.Fatalf("summary = %+v, want 1 cancelled", sum)
	}
	run := o.Status()[0]
	if run.Status != models.StatusCancelled || run.ErrorType != models.ErrCancelled {
		t.Errorf("run = %s/%s, want cancelled/cancelled", run.Status, run.ErrorType)
	}
	if !svc.wasStopped() {
		t.Error("service not stopped after cancellation")
	}
	if held := o.pipeline.ports.Held(); held != 0 {
		t.Errorf("%d ports held after cancellation", held)
	}

	// Stopping a terminal run is a no-op, not an error.
	if err := o.Stop(runID); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStopUnknownRun(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	if err := o.Stop("nope_1"); err == nil {
		t.Error("expected error for unknown run id")
	}
}

func TestConcurrencyCapAndDistinctPorts(t *testing.T) {
	o := newTestOrchestrator(t, 2)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	ports := make(map[int]bool)

	o.pipeline.runAgent = func(ctx context.Context, ad agent.Adapter, ws *workspace.Workspace, brief agent.Brief, model string, timeout time.Duration) agent.Outcome {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return agent.Outcome{State: agent.Completed}
	}
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		mu.Lock()
		if ports[port] {
			t.Errorf("port %d handed to two live runs", port)
		}
		ports[port] = true
		mu.Unlock()
		return &fakeService{}, service.Outcome{State: service.Ready}
	}
	o.pipeline.runSuite = func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
		return suite.Result{State: suite.Passed, Counts: suite.Counts{Passed: 1, Total: 1}}
	}

	specs := []models.ExperimentSpec{spec("t", 1), spec("t", 2), spec("t", 3), spec("t", 4)}
	sum, err := o.RunSpecs(context.Background(), specs)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Passed != 4 {
		t.Fatalf("summary = %+v, want 4 passed", sum)
	}
	if maxInFlight > 2 {
		t.Errorf("max concurrent agents = %d, want <= 2", maxInFlight)
	}
	if held := o.pipeline.ports.Held(); held != 0 {
		t.Errorf("%d ports held after job", held)
	}
}

func TestDuplicateSpecRejected(t *testing.T) {
	o := newTestOrchestrator(t, 1)

	_, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("t", 1), spec("t", 1)})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate rejection", err)
	}
}

func TestResubmissionGetsFreshAttempt(t *testing.T) {
	o := newTestOrchestrator(t, 1)
	completedAgent(o)
	o.pipeline.startService = func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
		return &fakeService{}, service.Outcome{State: service.Ready}
	}
	o.pipeline.runSuite = func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
		return suite.Result{State: suite.Passed, Counts: suite.Counts{Passed: 1, Total: 1}}
	}

	if _, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("t", 1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.RunSpecs(context.Background(), []models.ExperimentSpec{spec("t", 1)}); err != nil {
		t.Fatal(err)
	}

	records, err := o.store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[1].Attempt != 2 || !strings.HasSuffix(records[1].RunID, "_2") {
		t.Errorf("second record = %+v, want attempt 2", records[1])
	}
}

func TestCancelBeforeStart(t *testing.T) {
	o := newTestOrchestrator(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o.pipeline.runAgent = func(context.Context, agent.Adapter, *workspace.Workspace, agent.Brief, string, time.Duration) agent.Outcome {
		t.Error("agent must not run under a cancelled context")
		return agent.Outcome{State: agent.Completed}
	}

	sum, err := o.RunSpecs(ctx, []models.ExperimentSpec{spec("t", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Cancelled != 1 {
		t.Fatalf("summary = %+v, want 1 cancelled", sum)
	}
	run := o.Status()[0]
	if run.Status != models.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", run.Status)
	}
}

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speedwaylabs/speedway/internal/agent"
	"github.com/speedwaylabs/speedway/internal/config"
	"github.com/speedwaylabs/speedway/internal/models"
	"github.com/speedwaylabs/speedway/internal/results"
	"github.com/speedwaylabs/speedway/internal/service"
	"github.com/speedwaylabs/speedway/internal/suite"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

const (
	// defaultGrace bounds SIGTERM-to-SIGKILL for agent and suite processes.
	// Services use the per-task grace period instead.
	defaultGrace = 5 * time.Second

	defaultProbeInterval = 500 * time.Millisecond
)

// ResultFileName is the per-run snapshot written into the run directory.
const ResultFileName = "result.json"

// Orchestrator expands a job into experiment runs, executes them under a
// concurrency cap, and persists every terminal result.
type Orchestrator struct {
	cfg      models.JobConfig
	store    *results.Store
	pipeline *pipeline

	mu      sync.Mutex
	entries map[string]*runEntry
	order   []string

	tasks map[string]taskAssets
}

// New wires an orchestrator against real phase runners.
func New(cfg models.JobConfig, store *results.Store) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		entries: make(map[string]*runEntry),
		tasks:   make(map[string]taskAssets),
	}
	o.pipeline = &pipeline{
		workspaces: &workspace.Manager{RunsDir: cfg.RunsDir, TasksDir: cfg.TasksDir},
		ports:      workspace.NewPortAllocator(),
		agents:     agent.NewRegistry(),
		loadTask:   o.taskAssets,
		runAgent: func(ctx context.Context, ad agent.Adapter, ws *workspace.Workspace, brief agent.Brief, model string, timeout time.Duration) agent.Outcome {
			r := &agent.Runner{Grace: defaultGrace}
			return r.Run(ctx, ad, ws, brief, model, timeout)
		},
		startService: func(ctx context.Context, ws *workspace.Workspace, port int, cfg models.ServicePhaseConfig) (serviceProc, service.Outcome) {
			r := &service.Runner{
				Grace:         time.Duration(cfg.GracePeriodSec * float64(time.Second)),
				ProbeInterval: defaultProbeInterval,
			}
			s, out := r.Start(ctx, ws, port, cfg)
			if s == nil {
				return nil, out
			}
			return s, out
		},
		runSuite: func(ctx context.Context, ws *workspace.Workspace, taskDir, testCommand, baseURL string, timeout time.Duration) suite.Result {
			r := &suite.Runner{Grace: defaultGrace}
			return r.Run(ctx, ws, taskDir, testCommand, baseURL, timeout)
		},
	}
	return o
}

// taskAssets loads and caches a task directory: its config, validated
// structure, and specification text.
func (o *Orchestrator) taskAssets(name string) (taskAssets, error) {
	o.mu.Lock()
	if assets, ok := o.tasks[name]; ok {
		o.mu.Unlock()
		return assets, nil
	}
	o.mu.Unlock()

	dir := filepath.Join(o.cfg.TasksDir, name)
	cfg, err := config.LoadTaskConfig(dir)
	if err != nil {
		return taskAssets{}, err
	}
	if err := config.ValidateTaskDir(dir, cfg); err != nil {
		return taskAssets{}, err
	}
	specText, err := os.ReadFile(filepath.Join(dir, cfg.SpecFile))
	if err != nil {
		return taskAssets{}, fmt.Errorf("reading spec for task %s: %w", name, err)
	}

	assets := taskAssets{Name: name, Dir: dir, Config: cfg, Spec: string(specText)}
	o.mu.Lock()
	o.tasks[name] = assets
	o.mu.Unlock()
	return assets, nil
}

// AgentTally is the per-agent slice of a job summary.
type AgentTally struct {
	Total  int
	Passed int
}

// Summary aggregates a finished job.
type Summary struct {
	Total       int
	Passed      int
	Failed      int
	Errors      int
	Timeouts    int
	Cancelled   int
	PassRate    float64
	DurationSec float64
	ByAgent     map[string]AgentTally
}

// AllPassed reports whether every run in the job passed.
func (s Summary) AllPassed() bool { return s.Total > 0 && s.Passed == s.Total }

// Run expands the configured matrix and executes it to completion.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	return o.RunSpecs(ctx, o.cfg.Matrix())
}

// RunSpecs executes the given specs under the configured concurrency cap and
// returns once every run is terminal and persisted. Duplicate specs are
// rejected before any work starts; a resubmission of finished work gets a
// fresh attempt number instead.
func (o *Orchestrator) RunSpecs(ctx context.Context, specs []models.ExperimentSpec) (Summary, error) {
	if len(specs) == 0 {
		return Summary{}, fmt.Errorf("no experiments to run")
	}

	seen := make(map[string]models.ExperimentSpec, len(specs))
	for _, spec := range specs {
		id := spec.ID()
		if _, dup := seen[id]; dup {
			return Summary{}, fmt.Errorf("duplicate experiment %s (task=%s agent=%s rep=%d)",
				id, spec.Task, spec.Agent, spec.Repetition)
		}
		seen[id] = spec

		// Surface task problems before any agent spends its budget.
		if _, err := o.pipeline.loadTask(spec.Task); err != nil {
			return Summary{}, err
		}
	}

	entries := make([]*runEntry, 0, len(specs))
	now := time.Now().UTC()
	for _, spec := range specs {
		attempt, err := o.store.NextAttempt(spec.ID())
		if err != nil {
			return Summary{}, fmt.Errorf("determining attempt number: %w", err)
		}
		entry := &runEntry{run: models.ExperimentRun{
			ID:       spec.RunID(attempt),
			Spec:     spec,
			Attempt:  attempt,
			Status:   models.StatusQueued,
			QueuedAt: now,
		}}
		entries = append(entries, entry)

		o.mu.Lock()
		o.entries[entry.run.ID] = entry
		o.order = append(o.order, entry.run.ID)
		o.mu.Unlock()
	}

	slog.Info("job starting", "experiments", len(entries), "concurrency", o.cfg.Concurrency)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			o.runOne(gctx, entry)
			return nil
		})
	}
	g.Wait()

	summary := o.summarize(entries)
	summary.DurationSec = time.Since(start).Seconds()
	slog.Info("job finished",
		"total", summary.Total, "passed", summary.Passed,
		"failed", summary.Failed, "errors", summary.Errors,
		"timeouts", summary.Timeouts, "cancelled", summary.Cancelled)
	return summary, nil
}

// runOne is the worker body: execute the run, snapshot it, and persist both
// the per-run result file and the durable record. Cleanup has already
// happened inside execute by the time anything is written.
func (o *Orchestrator) runOne(ctx context.Context, entry *runEntry) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry.mu.Lock()
	entry.cancel = cancel
	if entry.stopped {
		cancel()
	}
	entry.mu.Unlock()

	o.pipeline.execute(runCtx, entry)

	run := entry.snapshot()
	slog.Info("run finished", "run_id", run.ID, "status", run.Status,
		"tests", fmt.Sprintf("%d/%d", run.TestsPassed, run.TestsTotal),
		"duration_sec", run.DurationSec)

	if err := o.writeRunResult(run); err != nil {
		slog.Warn("failed to write run result file", "run_id", run.ID, "error", err)
	}
	if err := o.store.AppendWithRetry(run.Record(), o.cfg.AppendRetries); err != nil {
		slog.Error("failed to persist result", "run_id", run.ID, "error", err)
	}
}

// writeRunResult drops the full run snapshot next to its logs.
func (o *Orchestrator) writeRunResult(run models.ExperimentRun) error {
	dir := run.RunDir
	if dir == "" {
		dir = filepath.Join(o.cfg.RunsDir, run.ID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ResultFileName), append(data, '\n'), 0644)
}

func (o *Orchestrator) summarize(entries []*runEntry) Summary {
	s := Summary{ByAgent: make(map[string]AgentTally)}
	for _, entry := range entries {
		run := entry.snapshot()
		s.Total++
		tally := s.ByAgent[run.Spec.Agent]
		tally.Total++
		switch run.Status {
		case models.StatusPassed:
			s.Passed++
			tally.Passed++
		case models.StatusFailed:
			s.Failed++
		case models.StatusTimeout:
			s.Timeouts++
		case models.StatusCancelled:
			s.Cancelled++
		default:
			s.Errors++
		}
		s.ByAgent[run.Spec.Agent] = tally
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}

// Status returns snapshots of every known run, in submission order.
func (o *Orchestrator) Status() []models.ExperimentRun {
	o.mu.Lock()
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	entries := make([]*runEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, o.entries[id])
	}
	o.mu.Unlock()

	runs := make([]models.ExperimentRun, 0, len(entries))
	for _, entry := range entries {
		runs = append(runs, entry.snapshot())
	}
	return runs
}

// Stop requests cancellation of one run. Unknown run IDs are an error;
// stopping a terminal or already-stopped run is a no-op.
func (o *Orchestrator) Stop(runID string) error {
	o.mu.Lock()
	entry, ok := o.entries[runID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown run: %s", runID)
	}
	entry.stop()
	return nil
}

// StopAll requests cancellation of every non-terminal run.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	entries := make([]*runEntry, 0, len(o.entries))
	for _, entry := range o.entries {
		entries = append(entries, entry)
	}
	o.mu.Unlock()

	for _, entry := range entries {
		entry.stop()
	}
}

// RunFromConfig loads a job file, opens the results store, and executes the
// whole matrix, logging progress until every run is terminal.
func RunFromConfig(ctx context.Context, configPath string) (Summary, error) {
	cfg, err := config.LoadJobConfig(configPath)
	if err != nil {
		return Summary{}, err
	}

	store, err := results.Open(cfg.ResultsDir)
	if err != nil {
		return Summary{}, err
	}
	defer store.Close()

	o := New(cfg, store)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				finished, total := 0, 0
				for _, run := range o.Status() {
					total++
					if run.Status.IsTerminal() {
						finished++
					}
				}
				slog.Info("progress", "finished", finished, "total", total)
			}
		}
	}()

	sum, err := o.Run(ctx)
	close(done)
	return sum, err
}

// LogPaths returns the three phase log files of a run, derived from the runs
// directory layout. The files may not all exist yet.
func LogPaths(runsDir, runID string) (agentLog, serviceLog, testLog string) {
	dir := filepath.Join(runsDir, runID)
	return filepath.Join(dir, "agent.stdout.log"),
		filepath.Join(dir, "service.stdout.log"),
		filepath.Join(dir, "test.stdout.log")
}

// Logs returns the phase log paths of a known run.
func (o *Orchestrator) Logs(runID string) (agentLog, serviceLog, testLog string, err error) {
	o.mu.Lock()
	_, ok := o.entries[runID]
	o.mu.Unlock()
	if !ok {
		return "", "", "", fmt.Errorf("unknown run: %s", runID)
	}
	agentLog, serviceLog, testLog = LogPaths(o.cfg.RunsDir, runID)
	return agentLog, serviceLog, testLog, nil
}

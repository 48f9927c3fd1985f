// Package workspace manages per-run working directories and port allocation.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Manager creates isolated workspaces for experiment runs.
type Manager struct {
	RunsDir  string
	TasksDir string
}

// Workspace is the filesystem footprint of one run: RunDir holds logs and
// results, Dir is where the agent works and the service runs.
type Workspace struct {
	RunDir string
	Dir    string
}

// Create builds the run directory and workspace for runID: starter files are
// copied in, the task's test suite is exposed under _tests/, and a
// run_tests.sh wrapper lets the agent self-test against its own service.
func (m *Manager) Create(runID, task string) (*Workspace, error) {
	runDir := filepath.Join(m.RunsDir, runID)
	dir := filepath.Join(runDir, "workspace")

	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("workspace already exists: %s", dir)
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	starter := filepath.Join(m.TasksDir, task, "starter")
	if _, err := os.Stat(starter); err == nil {
		if err := copyTree(starter, dir); err != nil {
			return nil, fmt.Errorf("copying starter files: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	tests := filepath.Join(m.TasksDir, task, "tests")
	if _, err := os.Stat(tests); err == nil {
		if err := copyTree(tests, filepath.Join(dir, "_tests")); err != nil {
			return nil, fmt.Errorf("copying tests: %w", err)
		}
	}

	if err := writeTestWrapper(dir); err != nil {
		return nil, fmt.Errorf("writing test wrapper: %w", err)
	}

	return &Workspace{RunDir: runDir, Dir: dir}, nil
}

// LogPath returns the deterministic log file path for a phase stream.
func (w *Workspace) LogPath(phase, stream string) string {
	return filepath.Join(w.RunDir, fmt.Sprintf("%s.%s.log", phase, stream))
}

// WriteFile places a file into the workspace directory.
func (w *Workspace) WriteFile(name, content string) error {
	return os.WriteFile(filepath.Join(w.Dir, name), []byte(content), 0644)
}

// Remove deletes the workspace directory, keeping the run directory (logs,
// result.json) intact. Idempotent.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// TaskDir returns the source directory of a task.
func (m *Manager) TaskDir(task string) string {
	return filepath.Join(m.TasksDir, task)
}

const testWrapper = `#!/bin/bash
# Run the test suite against your service.
# Your service must be running on the port specified by $PORT (default: 8080).
#
# Usage:
#   ./run_tests.sh              # Run all tests
#   ./run_tests.sh -k "health"  # Run only tests matching "health"
#   ./run_tests.sh -x           # Stop on first failure

set -e

PORT="${PORT:-8080}"
export SERVICE_URL="http://127.0.0.1:$PORT"
export BASE_URL="$SERVICE_URL"

cd "$(dirname "$0")"

pytest _tests -v --tb=short "$@"
`

func writeTestWrapper(dir string) error {
	return os.WriteFile(filepath.Join(dir, "run_tests.sh"), []byte(testWrapper), 0755)
}

// copyTree copies src into dst recursively, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

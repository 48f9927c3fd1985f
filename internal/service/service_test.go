package service

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/speedwaylabs/speedway/internal/config"
	"github.com/speedwaylabs/speedway/internal/models"
	"github.com/speedwaylabs/speedway/internal/workspace"
)

func newWorkspace(t *testing.T, runScript string) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	m := &workspace.Manager{RunsDir: filepath.Join(root, "runs"), TasksDir: filepath.Join(root, "tasks")}
	if err := os.MkdirAll(filepath.Join(root, "tasks", "t"), 0755); err != nil {
		t.Fatal(err)
	}
	ws, err := m.Create("svc_1", "t")
	if err != nil {
		t.Fatal(err)
	}
	if runScript != "" {
		if err := ws.WriteFile("run.sh", runScript); err != nil {
			t.Fatal(err)
		}
	}
	return ws
}

func phaseConfig(healthzTimeoutSec float64) models.ServicePhaseConfig {
	cfg := config.DefaultTaskConfig().Service
	cfg.HealthzTimeoutSec = healthzTimeoutSec
	cfg.GracePeriodSec = 0.2
	return cfg
}

// listenerOnFreePort simulates a healthy service: the test serves /healthz
// in-process on the port the runner probes, while run.sh just stays alive.
func listenerOnFreePort(t *testing.T) (int, *httptest.Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &httptest.Server{
		Listener: ln,
		Config: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})},
	}
	srv.Start()
	return ln.Addr().(*net.TCPAddr).Port, srv
}

func TestStartReady(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	port, srv := listenerOnFreePort(t)
	defer srv.Close()

	ws := newWorkspace(t, "#!/bin/bash\nsleep 30\n")
	r := &Runner{Grace: 200 * time.Millisecond, ProbeInterval: 20 * time.Millisecond}

	svc, out := r.Start(context.Background(), ws, port, phaseConfig(5))
	if svc != nil {
		defer svc.Stop()
	}
	if out.State != Ready {
		t.Fatalf("State = %v, want Ready (%s)", out.State, out.Message)
	}
	if svc.Exited() {
		t.Error("service should still be running after becoming ready")
	}
}

func TestStartFailedFast(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	ws := newWorkspace(t, "#!/bin/bash\necho boom >&2\nexit 1\n")
	r := &Runner{Grace: 200 * time.Millisecond, ProbeInterval: 20 * time.Millisecond}

	start := time.Now()
	svc, out := r.Start(context.Background(), ws, 59999, phaseConfig(60))
	if svc != nil {
		defer svc.Stop()
	}
	if out.State != StartFailed {
		t.Fatalf("State = %v, want StartFailed (%s)", out.State, out.Message)
	}
	// Must not wait out the 60s health budget on a dead process.
	if time.Since(start) > 10*time.Second {
		t.Error("start failure was not detected fast")
	}
}

func TestStartHealthTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	// Alive but never listens.
	ws := newWorkspace(t, "#!/bin/bash\nsleep 30\n")
	r := &Runner{Grace: 200 * time.Millisecond, ProbeInterval: 20 * time.Millisecond}

	svc, out := r.Start(context.Background(), ws, 59998, phaseConfig(0.3))
	if svc != nil {
		defer svc.Stop()
	}
	if out.State != HealthTimeout {
		t.Fatalf("State = %v, want HealthTimeout (%s)", out.State, out.Message)
	}
}

func TestStartMissingRunScript(t *testing.T) {
	ws := newWorkspace(t, "")
	r := &Runner{Grace: 200 * time.Millisecond}

	svc, out := r.Start(context.Background(), ws, 59997, phaseConfig(1))
	if svc != nil {
		t.Error("no process should have been started")
	}
	if out.State != StartFailed {
		t.Fatalf("State = %v, want StartFailed", out.State)
	}
}

func TestStopIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping process test in short mode")
	}

	ws := newWorkspace(t, "#!/bin/bash\nexit 0\n")
	r := &Runner{Grace: 200 * time.Millisecond, ProbeInterval: 20 * time.Millisecond}

	svc, _ := r.Start(context.Background(), ws, 59996, phaseConfig(0.3))
	if svc == nil {
		t.Fatal("expected a service handle")
	}
	svc.Stop()
	svc.Stop()
}

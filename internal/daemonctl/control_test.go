package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"boqmatch/internal/api"
	"boqmatch/internal/daemonctl"
)

type healthFunc func(ctx context.Context) (*api.HealthResponse, error)

func (f healthFunc) Health(ctx context.Context) (*api.HealthResponse, error) { return f(ctx) }

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	missing, err := daemonctl.ReadPID(filepath.Join(dir, "absent.pid"))
	if err != nil || missing != 0 {
		t.Fatalf("expected 0 for missing file, got %d, %v", missing, err)
	}

	path := filepath.Join(dir, "boqmatchd.pid")
	if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pid, err := daemonctl.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("expected 4242, got %d, %v", pid, err)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected malformed pid file to fail")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	dir := t.TempDir()
	_, err := daemonctl.Stop(filepath.Join(dir, "boqmatchd.pid"), filepath.Join(dir, "boqmatchd.lock"), time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestProcessAlive(t *testing.T) {
	if !daemonctl.ProcessAlive(os.Getpid()) {
		t.Fatal("expected current process to be alive")
	}
	if daemonctl.ProcessAlive(0) {
		t.Fatal("expected pid 0 to be reported dead")
	}
}

func TestEnsureStartedWhenAlreadyHealthy(t *testing.T) {
	client := healthFunc(func(context.Context) (*api.HealthResponse, error) {
		return &api.HealthResponse{Status: "ok"}, nil
	})
	result, err := daemonctl.EnsureStarted(context.Background(), client, "/nonexistent/boqmatchd", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted failed: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning {
		t.Fatalf("expected already running, got %s", result.State)
	}
}

func TestWaitForHealthy(t *testing.T) {
	var calls atomic.Int32
	client := healthFunc(func(context.Context) (*api.HealthResponse, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return &api.HealthResponse{Status: "ok"}, nil
	})
	if err := daemonctl.WaitForHealthy(context.Background(), client, 5*time.Second); err != nil {
		t.Fatalf("WaitForHealthy failed: %v", err)
	}

	never := healthFunc(func(context.Context) (*api.HealthResponse, error) {
		return nil, errors.New("connection refused")
	})
	if err := daemonctl.WaitForHealthy(context.Background(), never, 300*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}

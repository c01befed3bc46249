package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/gofrs/flock"

	"boqmatch/internal/config"
	"boqmatch/internal/logging"
)

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another boqmatchd instance is already running")

// Jobs is the coordinator surface the daemon drives.
type Jobs interface {
	ResumeInterrupted(ctx context.Context) (int, error)
	ActiveJobs() int
	Stop()
}

// Daemon ties the HTTP listener and the job coordinator to one process and
// enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	jobs   Jobs
	server *apiServer

	lockPath string
	lock     *flock.Flock
	pidPath  string

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running    bool
	PID        int
	Address    string
	LockPath   string
	ActiveJobs int
}

// New constructs a daemon serving handler on the configured bind address.
func New(cfg *config.Config, jobs Jobs, handler http.Handler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || jobs == nil || handler == nil {
		return nil, errors.New("daemon requires config, jobs and handler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		jobs:     jobs,
		server:   newAPIServer(cfg.API.Bind, handler, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		pidPath:  cfg.PIDPath(),
	}, nil
}

// Start acquires the instance lock, opens the listener and resumes jobs
// interrupted by a previous shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.server.start(); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	if err := writePIDFile(d.pidPath); err != nil {
		logging.WarnWithContext(d.logger, "pid file not written", "pid_file_failed",
			logging.String("path", d.pidPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "daemon stop from the CLI will not find this process"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running.Store(true)

	resumed, err := d.jobs.ResumeInterrupted(runCtx)
	if err != nil {
		logging.WarnWithContext(d.logger, "resume interrupted jobs failed", "resume_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "interrupted jobs stay in matching until the next start"),
		)
	}
	d.logger.Info("boqmatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.addr()),
		logging.Int("resumed_jobs", resumed),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop drains the listener, halts the coordinator and releases the lock.
// Jobs still matching keep their status and resume on the next Start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.jobs.Stop()
	if err := os.Remove(d.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to remove pid file", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("boqmatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Addr returns the bound listener address while running.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		Address:    d.server.addr(),
		LockPath:   d.lockPath,
		ActiveJobs: d.jobs.ActiveJobs(),
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

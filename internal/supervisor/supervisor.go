// Package supervisor launches worker processes and controls their lifetime.
//
// Workers are fire-and-forget: the Supervisor starts one process per instance,
// reaps it when it exits and answers liveness queries. It never restarts a
// worker; the controller decides what a dead worker means.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const (
	defaultStopGrace  = 3 * time.Second
	defaultKillWait   = time.Second
	defaultSpawnRate  = 4.0
	defaultSpawnBurst = 4
	pollStep          = 100 * time.Millisecond
)

var (
	// ErrSpawn is returned when a worker process cannot be started.
	ErrSpawn = errors.New("spawn worker")
	// ErrStuck is returned when a worker survives SIGKILL.
	ErrStuck = errors.New("worker did not exit after SIGKILL")
)

// killFunc is a variable so tests can observe signals without real processes.
var killFunc = unix.Kill

// Spec is everything the worker is told on its command line.
type Spec struct {
	ID         int
	URL        string
	RTSPPort   *int // nil with HTTPPort nil disables streaming
	HTTPPort   *int
	SinkName   string
	SourceName string
}

// Args returns the worker argument vector (without the executable).
func (s Spec) Args() []string {
	args := []string{s.URL}
	if s.RTSPPort != nil && s.HTTPPort != nil {
		args = append(args,
			"--rtsp-port", strconv.Itoa(*s.RTSPPort),
			"--http-port", strconv.Itoa(*s.HTTPPort),
		)
	} else {
		args = append(args, "--no-streaming")
	}
	return append(args, "--sink-name", s.SinkName, "--source-name", s.SourceName)
}

// Liveness reports whether a worker process is still running.
type Liveness interface {
	IsAlive(pid int) bool
}

// SignalLiveness probes a process with signal 0.
type SignalLiveness struct{}

// IsAlive implements Liveness.
func (SignalLiveness) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := killFunc(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Supervisor starts and stops worker processes.
// All methods are safe to call concurrently.
type Supervisor struct {
	workerPath string
	logDir     string
	liveness   Liveness
	limiter    *rate.Limiter
	stopGrace  time.Duration
	killWait   time.Duration

	mu    sync.Mutex
	procs map[int]chan struct{} // pid → closed once the child has been reaped
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLiveness replaces the liveness probe used for processes this Supervisor did not start.
func WithLiveness(l Liveness) Option {
	return func(s *Supervisor) { s.liveness = l }
}

// WithStopGrace sets how long Stop waits after SIGTERM before SIGKILL.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopGrace = d
		}
	}
}

// WithSpawnRate limits how fast workers are started.
func WithSpawnRate(perSec float64, burst int) Option {
	return func(s *Supervisor) {
		if perSec > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// New creates a Supervisor for workerPath writing per-instance logs to logDir.
func New(workerPath, logDir string, opts ...Option) *Supervisor {
	s := &Supervisor{
		workerPath: workerPath,
		logDir:     logDir,
		liveness:   SignalLiveness{},
		limiter:    rate.NewLimiter(rate.Limit(defaultSpawnRate), defaultSpawnBurst),
		stopGrace:  defaultStopGrace,
		killWait:   defaultKillWait,
		procs:      make(map[int]chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LogPath returns the log file used by instance id.
func (s *Supervisor) LogPath(id int) string {
	return filepath.Join(s.logDir, fmt.Sprintf("taby_%d.log", id))
}

// Spawn starts the worker for spec and returns its pid without waiting for it.
// Worker output is appended to the instance log file.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return 0, fmt.Errorf("%w: log dir: %w", ErrSpawn, err)
	}
	logPath := s.LogPath(spec.ID)
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: open log: %w", ErrSpawn, err)
	}
	defer logFile.Close()

	cmd := exec.Command(s.workerPath, spec.Args()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSpawn, s.workerPath, err)
	}

	pid := cmd.Process.Pid
	done := make(chan struct{})
	s.mu.Lock()
	s.procs[pid] = done
	s.mu.Unlock()

	slog.Info("supervisor: worker started", "id", spec.ID, "pid", pid, "log", logPath)

	go func() {
		err := cmd.Wait()
		slog.Info("supervisor: worker exited", "id", spec.ID, "pid", pid, "err", err)
		close(done)
	}()
	return pid, nil
}

// IsAlive reports whether pid is still running. It never blocks. A reaped
// child is reported dead once and then forgotten.
func (s *Supervisor) IsAlive(pid int) bool {
	s.mu.Lock()
	done, ours := s.procs[pid]
	s.mu.Unlock()
	if ours {
		select {
		case <-done:
			s.forget(pid)
			return false
		default:
		}
	}
	return s.liveness.IsAlive(pid)
}

// Stop terminates the worker's process group: SIGTERM, then SIGKILL if it is
// still alive after the stop grace period. A worker that is already gone is
// not an error.
func (s *Supervisor) Stop(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	slog.Debug("supervisor: sending SIGTERM to process group", "pid", pid)
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			s.forget(pid)
			return nil
		}
		return fmt.Errorf("SIGTERM %d: %w", pid, err)
	}

	if s.waitExit(ctx, pid, s.stopGrace) {
		s.forget(pid)
		return nil
	}

	slog.Warn("supervisor: SIGTERM timed out, sending SIGKILL", "pid", pid)
	if err := signalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("SIGKILL %d: %w", pid, err)
	}
	if !s.waitExit(ctx, pid, s.killWait) {
		return fmt.Errorf("pid %d: %w", pid, ErrStuck)
	}
	s.forget(pid)
	return nil
}

// StopAll stops every pid concurrently, continuing past individual failures.
// The returned map holds the pids that could not be stopped.
func (s *Supervisor) StopAll(ctx context.Context, pids []int) map[int]error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[int]error)
	)
	for _, pid := range pids {
		g.Go(func() error {
			if err := s.Stop(ctx, pid); err != nil {
				slog.Warn("supervisor: could not stop worker", "pid", pid, "err", err)
				mu.Lock()
				failed[pid] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// waitExit polls liveness until pid is gone, d elapses or ctx is done.
func (s *Supervisor) waitExit(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !s.IsAlive(pid) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !s.IsAlive(pid)
		case <-time.After(pollStep):
		}
	}
}

func (s *Supervisor) forget(pid int) {
	s.mu.Lock()
	done, ok := s.procs[pid]
	s.mu.Unlock()
	if !ok {
		return
	}
	// Only drop reaped children; the reaper still owns live ones.
	select {
	case <-done:
		s.mu.Lock()
		delete(s.procs, pid)
		s.mu.Unlock()
	default:
	}
}

// signalGroup signals the whole process group, falling back to the single
// process when the group is already gone.
func signalGroup(pid int, sig unix.Signal) error {
	err := killFunc(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return killFunc(pid, sig)
	}
	return err
}

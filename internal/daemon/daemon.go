package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"folio/internal/capture"
	"folio/internal/config"
	"folio/internal/deps"
	"folio/internal/logging"
	"folio/internal/preflight"
)

// Daemon owns the capture runtime for the life of the process and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	runtime *capture.Runtime
	monitor *hotplugMonitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	detectMu   sync.Mutex
	lastDetect time.Time
	detectErr  string
	cameras    map[int]string
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	LockFilePath   string         `json:"lock_path"`
	SocketPath     string         `json:"socket_path"`
	Hotplug        bool           `json:"hotplug"`
	LastDetection  time.Time      `json:"last_detection,omitzero"`
	DetectionError string         `json:"detection_error,omitempty"`
	Cameras        map[int]string `json:"cameras,omitempty"`
	Capture        capture.Status `json:"capture"`
	Dependencies   []deps.Status  `json:"dependencies"`
	StatusError    string         `json:"status_error,omitempty"`
}

// New constructs a daemon around an existing capture runtime.
func New(cfg *config.Config, rt *capture.Runtime, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || rt == nil {
		return nil, errors.New("daemon requires config and capture runtime")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		runtime:  rt,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.monitor = newHotplugMonitor(cfg, logger, func(ctx context.Context) error {
		_, err := d.Detect(ctx)
		return err
	})
	return d, nil
}

// Runtime exposes the capture runtime served by the daemon.
func (d *Daemon) Runtime() *capture.Runtime {
	return d.runtime
}

// Start acquires the daemon lock, runs preflight checks, detects attached
// cameras and starts the hotplug monitor. Preflight and detection failures
// are logged and do not prevent startup.
func (d *Daemon) Start(ctx context.Context) error {
	if d.stopped.Load() {
		return errors.New("daemon was stopped; camera handles have been released")
	}
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another foliod instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running.Store(true)

	for _, result := range preflight.Failed(preflight.RunAll(d.ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed",
			"preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run folio status for details"),
			logging.String(logging.FieldImpact, "captures may fail until resolved"),
		)
	}

	if d.cfg.Daemon.DetectOnStart {
		if _, err := d.Detect(d.ctx); err != nil {
			logging.WarnWithContext(d.logger, "initial camera detection failed",
				"camera_detection_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check camera cables and run folio cameras detect"),
				logging.String(logging.FieldImpact, "registry may not reflect attached cameras"),
			)
		}
	}

	if err := d.monitor.Start(d.ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start hotplug monitor: %w", err)
	}

	d.logger.Info("folio daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("backend", capture.BackendName(d.cfg.Camera.Backend)),
		logging.Bool("hotplug", d.monitor.Running()),
	)
	return nil
}

// Detect enumerates attached cameras, registers every identifiable one and
// records the resulting index mapping for status reports.
func (d *Daemon) Detect(ctx context.Context) (map[int]string, error) {
	mapping, err := d.runtime.Registry().RegisterDetected(ctx)

	d.detectMu.Lock()
	defer d.detectMu.Unlock()
	d.lastDetect = time.Now().UTC()
	if err != nil {
		d.detectErr = err.Error()
		return nil, err
	}
	d.detectErr = ""
	d.cameras = maps.Clone(mapping)

	d.logger.Info("cameras registered",
		logging.String(logging.FieldEventType, "cameras_registered"),
		logging.Int("count", len(mapping)),
	)
	return mapping, nil
}

// Stop stops the hotplug monitor, releases camera handles and the daemon
// lock. A stopped daemon cannot be restarted.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.monitor.Stop()
	if err := d.runtime.Close(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release camera handles",
			"camera_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the camera helper or reboot if cameras stay busy"),
			logging.String(logging.FieldImpact, "cameras may be unavailable to other processes"),
		)
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock",
			"daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "next daemon start may be refused"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.stopped.Store(true)
	d.logger.Info("folio daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.runtime.Close()
}

// Status reports daemon, runtime and dependency state. It never touches a
// camera.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.SocketPath(),
		Hotplug:      d.monitor.Running(),
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}

	d.detectMu.Lock()
	st.LastDetection = d.lastDetect
	st.DetectionError = d.detectErr
	st.Cameras = maps.Clone(d.cameras)
	d.detectMu.Unlock()

	runtimeStatus, err := d.runtime.Status(ctx, false)
	if err != nil {
		st.StatusError = err.Error()
	}
	st.Capture = runtimeStatus
	return st
}

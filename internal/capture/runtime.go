package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"folio/internal/backend"
	"folio/internal/backend/picam"
	"folio/internal/calibration"
	"folio/internal/config"
	"folio/internal/logging"
	"folio/internal/manifest"
	"folio/internal/project"
	"folio/internal/registry"
)

// BackendFactory builds the backend for a runtime.
type BackendFactory func(cfg *config.Config, logger *slog.Logger) (backend.Backend, error)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithBackendFactory replaces NewBackend (primarily for tests).
func WithBackendFactory(factory BackendFactory) RuntimeOption {
	return func(r *Runtime) {
		if factory != nil {
			r.factory = factory
		}
	}
}

// WithCalibrationSource replaces the handle source used for calibration when
// the backend cannot lend its own handles.
func WithCalibrationSource(source calibration.HandleSource) RuntimeOption {
	return func(r *Runtime) {
		r.calibrationSource = source
	}
}

// Runtime owns everything a capture needs for the life of a process: the
// backend (selected on first use and cached), the registry, the manifest
// logger, the project manager and the orchestrator. Close releases the
// backend's camera handles.
type Runtime struct {
	cfg               *config.Config
	logger            *slog.Logger
	factory           BackendFactory
	calibrationSource calibration.HandleSource

	manifest *manifest.Logger
	registry *registry.Registry
	projects *project.Manager

	once sync.Once
	mu   sync.Mutex
	// backend and orchestrator are set by the first successful init.
	backend      backend.Backend
	orchestrator *Orchestrator
	initErr      error
	closed       bool
}

// NewRuntime wires a runtime for cfg. No camera is touched until the first
// operation that needs the backend.
func NewRuntime(cfg *config.Config, logger *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("runtime requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runtime{
		cfg:     cfg,
		logger:  logger,
		factory: NewBackend,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.manifest = manifest.NewLogger(logger)
	reg, err := registry.New(cfg.Paths.RegistryPath, runtimeLister{r}, registry.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	r.registry = reg
	projects, err := project.NewManager(cfg, reg, r.manifest,
		project.WithLogger(logger),
		project.WithBackendName(BackendName(cfg.Camera.Backend)),
	)
	if err != nil {
		return nil, err
	}
	r.projects = projects
	return r, nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Registry returns the camera registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Projects returns the project manager.
func (r *Runtime) Projects() *project.Manager { return r.projects }

// Manifest returns the manifest logger.
func (r *Runtime) Manifest() *manifest.Logger { return r.manifest }

// Backend returns the configured backend, constructing it on first use.
func (r *Runtime) Backend() (backend.Backend, error) {
	if err := r.init(); err != nil {
		return nil, err
	}
	return r.backend, nil
}

// Orchestrator returns the orchestrator, constructing the backend on first
// use.
func (r *Runtime) Orchestrator() (*Orchestrator, error) {
	if err := r.init(); err != nil {
		return nil, err
	}
	return r.orchestrator, nil
}

func (r *Runtime) init() error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.New("capture runtime is closed")
	}
	r.once.Do(func() {
		be, err := r.factory(r.cfg, r.logger)
		if err != nil {
			r.initErr = fmt.Errorf("select backend: %w", err)
			return
		}
		engine := calibration.NewEngine(r.handleSource(be),
			calibration.WithLogger(r.logger),
			calibration.WithConvergence(r.cfg.Calibration.ConvergenceWindow, r.cfg.Calibration.ConvergenceThreshold),
		)
		orch, err := NewOrchestrator(r.cfg, be, r.manifest,
			WithLogger(r.logger),
			WithRegistry(r.registry),
			WithCalibrationEngine(engine),
		)
		if err != nil {
			_ = be.Cleanup()
			r.initErr = err
			return
		}
		r.mu.Lock()
		r.backend = be
		r.orchestrator = orch
		r.mu.Unlock()
		r.logger.Info("capture backend selected",
			logging.String(logging.FieldComponent, "capture"),
			logging.String("backend", be.Name()),
			logging.Bool("streaming", be.SupportsStreaming()),
		)
	})
	return r.initErr
}

// handleSource lends the persistent backend's cached handles to calibration;
// any other backend calibrates through dedicated helper handles.
func (r *Runtime) handleSource(be backend.Backend) calibration.HandleSource {
	if src, ok := be.(calibration.HandleSource); ok {
		return src
	}
	if r.calibrationSource != nil {
		return r.calibrationSource
	}
	return calibration.OpenerSource{Opener: picam.NewHelperOpener(r.cfg.Camera.HelperBinary, r.logger)}
}

// Status summarizes the runtime for status displays.
type Status struct {
	Backend      string         `json:"backend"`
	BackendReady bool           `json:"backend_ready"`
	OpenHandles  []int          `json:"open_handles,omitempty"`
	Busy         []int          `json:"busy,omitempty"`
	Cameras      map[int]string `json:"cameras,omitempty"`
	DetectError  string         `json:"detect_error,omitempty"`
	Registered   int            `json:"registered"`
	RegistryPath string         `json:"registry_path"`
}

// Status reports backend state and the currently attached cameras. It does
// not construct the backend unless detect is true.
func (r *Runtime) Status(ctx context.Context, detect bool) (Status, error) {
	st := Status{
		Backend:      BackendName(r.cfg.Camera.Backend),
		RegistryPath: r.registry.Path(),
	}
	entries, err := r.registry.ListAll(ctx)
	if err != nil {
		return st, err
	}
	st.Registered = len(entries)

	r.mu.Lock()
	be, orch := r.backend, r.orchestrator
	r.mu.Unlock()
	if be != nil {
		st.BackendReady = true
		if lender, ok := be.(interface{ OpenHandles() []int }); ok {
			st.OpenHandles = lender.OpenHandles()
		}
		for _, index := range []int{r.cfg.Camera.LeftIndex, r.cfg.Camera.RightIndex} {
			if orch.Busy(index) {
				st.Busy = append(st.Busy, index)
			}
		}
		sort.Ints(st.Busy)
	}
	if detect {
		mapping, err := r.registry.CurrentMapping(ctx)
		if err != nil {
			st.DetectError = err.Error()
		} else {
			st.Cameras = mapping
		}
		r.mu.Lock()
		st.BackendReady = r.backend != nil
		r.mu.Unlock()
	}
	return st, nil
}

// Close releases every camera handle held by the backend. Later operations
// fail. Close is safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	be := r.backend
	r.mu.Unlock()
	if be == nil {
		return nil
	}
	if err := be.Cleanup(); err != nil {
		return fmt.Errorf("release camera handles: %w", err)
	}
	r.logger.Info("capture backend released", logging.String(logging.FieldComponent, "capture"), logging.String("backend", be.Name()))
	return nil
}

// runtimeLister resolves the backend lazily so constructing the registry
// never touches a camera.
type runtimeLister struct {
	r *Runtime
}

func (l runtimeLister) ListCameras(ctx context.Context) ([]backend.Info, error) {
	be, err := l.r.Backend()
	if err != nil {
		return nil, err
	}
	return be.ListCameras(ctx)
}

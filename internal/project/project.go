package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"folio/internal/calibration"
	"folio/internal/camera"
	"folio/internal/config"
	"folio/internal/logging"
	"folio/internal/manifest"
	"folio/internal/registry"
	"folio/internal/services"
)

// CalibrationSource resolves the registry entry for the camera at an index.
type CalibrationSource interface {
	GetByIndex(ctx context.Context, index int) (string, registry.Entry, bool, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.NewComponentLogger(logger, "project")
	}
}

// WithBackendName records the active backend in project provenance.
func WithBackendName(name string) Option {
	return func(m *Manager) {
		m.backendName = name
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager initializes projects under the configured projects root.
type Manager struct {
	cfg         *config.Config
	source      CalibrationSource
	manifest    *manifest.Logger
	logger      *slog.Logger
	backendName string
	now         func() time.Time
}

// NewManager returns a project manager. source may be nil, in which case no
// calibration is applied to project defaults.
func NewManager(cfg *config.Config, source CalibrationSource, log *manifest.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil || log == nil {
		return nil, errors.New("project manager requires config and manifest logger")
	}
	m := &Manager{
		cfg:      cfg,
		source:   source,
		manifest: log,
		logger:   logging.NewComponentLogger(nil, "project"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// InitOptions controls project initialization.
type InitOptions struct {
	// Resolution is a preset name; empty uses the configured default.
	Resolution string
	// UseCalibration applies registry calibration to the default camera configs.
	UseCalibration bool
	CreatedBy      string
	// Force re-initializes an existing project by appending a new project record.
	Force bool
}

// Layout resolves name under the configured projects root.
func (m *Manager) Layout(name string) (Layout, error) {
	return Resolve(m.cfg.Paths.ProjectsRoot, name)
}

// Init creates the project directories, snapshots the default camera
// configuration, and appends a project record. Re-initializing an existing
// project requires Force.
func (m *Manager) Init(ctx context.Context, name string, opts InitOptions) (Layout, manifest.ProjectInfo, error) {
	layout, err := m.Layout(name)
	if err != nil {
		return Layout{}, manifest.ProjectInfo{}, err
	}
	logger := m.logger.With(logging.String(logging.FieldProject, layout.Name))

	reinit := layout.Initialized()
	if reinit && !opts.Force {
		return Layout{}, manifest.ProjectInfo{}, services.Wrap(services.ErrValidation, "project", "init", layout.Name,
			errors.New("project already initialized; use force to re-initialize"))
	}

	preset := strings.TrimSpace(opts.Resolution)
	if preset == "" {
		preset = m.cfg.Camera.DefaultResolution
	}
	size, err := camera.ResolutionFor(preset)
	if err != nil {
		return Layout{}, manifest.ProjectInfo{}, services.Wrap(services.ErrValidation, "project", "init", "resolution", err)
	}

	if err := layout.Ensure(); err != nil {
		return Layout{}, manifest.ProjectInfo{}, services.Wrap(services.ErrManifestWrite, "project", "init", "create directories", err)
	}

	cameras := make(map[string]camera.Config, 2)
	applied := false
	for _, index := range []int{m.cfg.Camera.LeftIndex, m.cfg.Camera.RightIndex} {
		cfg := m.cfg.CameraDefaults(index).WithSize(size)
		if opts.UseCalibration {
			var ok bool
			cfg, ok, err = m.applyCalibration(ctx, logger, cfg)
			if err != nil {
				return Layout{}, manifest.ProjectInfo{}, err
			}
			applied = applied || ok
		}
		cameras["camera_"+strconv.Itoa(index)] = cfg
	}

	info := manifest.ProjectInfo{
		ProjectID:     uuid.NewString(),
		ProjectName:   layout.Name,
		CreatedAt:     m.now().UTC().Format(time.RFC3339Nano),
		CreatedBy:     createdBy(opts.CreatedBy),
		Reinitialized: reinit,
		Paths:         layout.Paths(),
		DefaultCameraConfig: manifest.CameraDefaults{
			Cameras:            cameras,
			ResolutionPreset:   preset,
			CalibrationApplied: applied,
		},
		Software: manifest.CurrentSoftware(m.backendName),
		Host:     manifest.CurrentHost(),
	}
	if err := m.manifest.AppendProject(layout.Root, info); err != nil {
		return Layout{}, manifest.ProjectInfo{}, err
	}
	logger.Info("project initialized",
		logging.String("root", layout.Root),
		logging.String("resolution", preset),
		logging.Bool("calibration_applied", applied),
		logging.Bool("reinitialized", reinit),
	)
	return layout, info, nil
}

// applyCalibration applies the registry profile for cfg.Index. Registry
// persistence failures are returned; an absent camera or profile is not an
// error.
func (m *Manager) applyCalibration(ctx context.Context, logger *slog.Logger, cfg camera.Config) (camera.Config, bool, error) {
	if m.source == nil {
		return cfg, false, nil
	}
	hwid, entry, found, err := m.source.GetByIndex(ctx, cfg.Index)
	if err != nil {
		if errors.Is(err, services.ErrRegistryPersistence) {
			return cfg, false, err
		}
		logging.WarnWithContext(logger, "calibration lookup failed", "calibration_lookup_failed",
			logging.CameraIndex(cfg.Index),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "attach the camera and run folio cameras detect"),
			logging.String(logging.FieldImpact, "project defaults use autofocus"),
		)
		return cfg, false, nil
	}
	if !found || !entry.Calibration.FocusUsable() {
		logger.Info("no usable calibration", logging.CameraIndex(cfg.Index), logging.String(logging.FieldHardwareID, hwid))
		return cfg, false, nil
	}
	logger.Info("calibration applied",
		logging.CameraIndex(cfg.Index),
		logging.String(logging.FieldHardwareID, hwid),
		logging.Float64("lens_position", *entry.Calibration.Focus.LensPosition),
	)
	return calibration.Apply(cfg, entry.Calibration), true, nil
}

// Summary describes an initialized project.
type Summary struct {
	Name      string `json:"name"`
	Root      string `json:"root"`
	ProjectID string `json:"project_id"`
	CreatedAt string `json:"created_at"`
	Captures  int    `json:"captures"`
}

// List returns every initialized project under the projects root, by name.
func (m *Manager) List() ([]Summary, error) {
	entries, err := os.ReadDir(m.cfg.Paths.ProjectsRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects root: %w", err)
	}
	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		layout, err := m.Layout(entry.Name())
		if err != nil || !layout.Initialized() {
			continue
		}
		info, ok, err := manifest.LatestProject(layout.Root)
		if err != nil || !ok {
			continue
		}
		captures, _ := manifest.ReadCaptures(layout.Root)
		out = append(out, Summary{
			Name:      layout.Name,
			Root:      layout.Root,
			ProjectID: info.ProjectID,
			CreatedAt: info.CreatedAt,
			Captures:  len(captures),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func createdBy(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

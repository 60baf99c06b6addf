package ipc

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"folio/internal/calibration"
	"folio/internal/capture"
	"folio/internal/daemon"
	"folio/internal/logging"
	"folio/internal/preflight"
	"folio/internal/project"
	"folio/internal/services"
)

// Service implements every folio operation against a capture runtime. The
// RPC server exposes it on the daemon socket; the CLI calls it directly when
// no daemon is answering.
type Service struct {
	runtime  *capture.Runtime
	daemon   *daemon.Daemon
	logger   *slog.Logger
	progress calibration.Progress
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDaemon routes detection and status through a running daemon.
func WithDaemon(d *daemon.Daemon) ServiceOption {
	return func(s *Service) {
		s.daemon = d
	}
}

// WithCalibrationProgress reports white balance sampling progress. Progress
// is only available in-process.
func WithCalibrationProgress(progress calibration.Progress) ServiceOption {
	return func(s *Service) {
		s.progress = progress
	}
}

// NewService builds a service around rt.
func NewService(rt *capture.Runtime, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if rt == nil {
		return nil, errors.New("ipc service requires capture runtime")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Service{runtime: rt, logger: logging.NewComponentLogger(logger, "ipc")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Capture runs a single or dual capture.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*CaptureResponse, error) {
	ctx = withRequestID(ctx)
	orch, err := s.runtime.Orchestrator()
	if err != nil {
		resp := capture.NewResponse(nil, services.Wrap(services.ErrConnectivity, "ipc", "capture", "backend unavailable", err))
		return &resp, nil
	}
	resp := orch.Handle(ctx, req)
	return &resp, nil
}

// Calibrate runs calibration and stores the resulting profile.
func (s *Service) Calibrate(ctx context.Context, req CalibrateRequest) (*CalibrateResponse, error) {
	ctx = withRequestID(ctx)
	orch, err := s.runtime.Orchestrator()
	if err != nil {
		return nil, services.Wrap(services.ErrCalibration, "ipc", "calibrate", "backend unavailable", err)
	}
	id, profile, err := orch.Calibrate(ctx, req.Camera, capture.CalibrateOptions{
		Focus:        req.Focus,
		WhiteBalance: req.WhiteBalance,
		Resolution:   req.Resolution,
		Frames:       req.Frames,
		Progress:     s.progress,
	})
	if err != nil {
		return nil, err
	}
	return &CalibrateResponse{
		HardwareID:     id,
		Profile:        profile,
		Recommendation: calibration.Recommended(profile),
	}, nil
}

// Cameras lists registered cameras, detecting attached ones first when asked.
func (s *Service) Cameras(ctx context.Context, req CamerasRequest) (*CamerasResponse, error) {
	resp := &CamerasResponse{RegistryPath: s.runtime.Registry().Path()}
	if req.Detect {
		var (
			mapping map[int]string
			err     error
		)
		if s.daemon != nil {
			mapping, err = s.daemon.Detect(ctx)
		} else {
			mapping, err = s.runtime.Registry().RegisterDetected(ctx)
		}
		if err != nil {
			return nil, err
		}
		resp.Mapping = mapping
	}
	entries, err := s.runtime.Registry().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	resp.Cameras = entries
	return resp, nil
}

// SetLabel updates the machine id and label of a registered camera.
func (s *Service) SetLabel(ctx context.Context, req SetLabelRequest) (*SetLabelResponse, error) {
	id := strings.TrimSpace(req.HardwareID)
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, "ipc", "set label", "", errors.New("hardware id is required"))
	}
	reg := s.runtime.Registry()
	if err := reg.SetLabel(ctx, id, req.MachineID, req.Label); err != nil {
		return nil, err
	}
	entry, ok, err := reg.GetByHardwareID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "ipc", "set label", id, nil)
	}
	return &SetLabelResponse{Camera: entry}, nil
}

// InitProject initializes a project directory and records it.
func (s *Service) InitProject(ctx context.Context, req InitProjectRequest) (*InitProjectResponse, error) {
	layout, info, err := s.runtime.Projects().Init(withRequestID(ctx), req.Name, projectOptions(req))
	if err != nil {
		return nil, err
	}
	return &InitProjectResponse{Root: layout.Root, Project: info}, nil
}

// Projects lists initialized projects.
func (s *Service) Projects(_ context.Context, _ ProjectsRequest) (*ProjectsResponse, error) {
	list, err := s.runtime.Projects().List()
	if err != nil {
		return nil, err
	}
	return &ProjectsResponse{Projects: list}, nil
}

// Status reports daemon and runtime status. Without a daemon the report
// describes the in-process runtime and Running is false.
func (s *Service) Status(ctx context.Context, _ StatusRequest) (*StatusResponse, error) {
	if s.daemon != nil {
		st := s.daemon.Status(ctx)
		return &st, nil
	}
	cfg := s.runtime.Config()
	st := StatusResponse{
		PID:          os.Getpid(),
		LockFilePath: cfg.LockPath(),
		SocketPath:   cfg.SocketPath(),
		Dependencies: preflight.CheckSystemDeps(ctx, cfg),
	}
	runtimeStatus, err := s.runtime.Status(ctx, false)
	if err != nil {
		st.StatusError = err.Error()
	}
	st.Capture = runtimeStatus
	return &st, nil
}

func withRequestID(ctx context.Context) context.Context {
	if _, ok := services.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return services.WithRequestID(ctx, uuid.NewString())
}

func projectOptions(req InitProjectRequest) project.InitOptions {
	return project.InitOptions{
		Resolution:     req.Resolution,
		UseCalibration: req.UseCalibration,
		CreatedBy:      req.CreatedBy,
		Force:          req.Force,
	}
}

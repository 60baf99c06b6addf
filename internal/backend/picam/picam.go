package picam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"folio/internal/backend"
	"folio/internal/camera"
	"folio/internal/logging"
	"folio/internal/services"
)

const (
	// Name is recorded as the backend in provenance.
	Name = "picamera2"

	defaultListTimeout = 5 * time.Second
)

// Option configures the backend.
type Option func(*Backend)

// WithLogger sets the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logging.NewComponentLogger(logger, "picam")
	}
}

// WithListTimeout bounds enumeration and connectivity probes.
func WithListTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.listTimeout = d
		}
	}
}

// WithSleep replaces the settle delay (primarily for tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(b *Backend) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// Backend keeps one open Handle per camera index.
type Backend struct {
	opener      Opener
	logger      *slog.Logger
	listTimeout time.Duration
	sleep       func(context.Context, time.Duration) error

	mu    sync.Mutex
	slots map[int]*slot
}

// slot owns the handle for one index. Its mutex serializes every handle call.
type slot struct {
	mu     sync.Mutex
	handle Handle
	shape  *StreamConfig
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a persistent-handle backend.
func New(opener Opener, opts ...Option) (*Backend, error) {
	if opener == nil {
		return nil, errors.New("camera opener required")
	}
	b := &Backend{
		opener:      opener,
		logger:      logging.NewComponentLogger(nil, "picam"),
		listTimeout: defaultListTimeout,
		sleep:       sleepContext,
		slots:       make(map[int]*slot),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) SupportsStreaming() bool { return true }

func (b *Backend) SupportsLiveAdjustment() bool { return true }

// IsConnected reports whether index is enumerated by the camera stack.
func (b *Backend) IsConnected(ctx context.Context, index int) bool {
	cameras, err := b.ListCameras(ctx)
	if err != nil {
		logging.WarnWithContext(b.logger, "camera probe failed", "camera_probe_failed",
			logging.CameraIndex(index),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the camera helper is installed and the camera is attached"),
			logging.String(logging.FieldImpact, "camera reported as disconnected"),
		)
		return false
	}
	for _, cam := range cameras {
		if cam.Index == index {
			return true
		}
	}
	b.logger.Warn("camera not found",
		logging.CameraIndex(index),
		logging.Int("detected", len(cameras)),
	)
	return false
}

// ListCameras enumerates cameras through the opener.
func (b *Backend) ListCameras(ctx context.Context) ([]backend.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, b.listTimeout)
	defer cancel()
	cameras, err := b.opener.List(listCtx)
	if err != nil {
		return nil, services.Wrap(services.ErrConnectivity, "picam", "list cameras", "", err)
	}
	return cameras, nil
}

// Capture configures (when needed), settles, and captures from the cached
// handle for cfg.Index.
func (b *Backend) Capture(ctx context.Context, outputPath string, cfg camera.Config) (backend.Result, error) {
	if err := cfg.Validate(); err != nil {
		return backend.Result{}, services.Wrap(services.ErrValidation, "picam", "capture", "invalid camera config", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return backend.Result{}, services.Wrap(services.ErrCaptureProcess, "picam", "capture", "create output directory", err)
	}

	s := b.slotFor(cfg.Index)
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := b.logger.With(logging.CameraIndex(cfg.Index))
	if err := b.ensureOpen(ctx, s, cfg.Index); err != nil {
		return backend.Result{}, err
	}

	shape := ShapeFor(cfg)
	if s.shape == nil || *s.shape != shape {
		if s.handle.Started() {
			logger.Debug("stopping camera to reconfigure")
			if err := s.handle.Stop(ctx); err != nil {
				return backend.Result{}, b.handleErr(s, cfg.Index, "stop", err)
			}
		}
		if err := s.handle.Configure(ctx, shape); err != nil {
			s.shape = nil
			return backend.Result{}, b.handleErr(s, cfg.Index, "configure", err)
		}
		s.shape = &shape
		logger.Debug("camera configured", logging.String("size", shape.Size.String()), logging.String("format", shape.Format))
	}
	if !s.handle.Started() {
		if err := s.handle.Start(ctx); err != nil {
			return backend.Result{}, b.handleErr(s, cfg.Index, "start", err)
		}
	}
	if err := s.handle.SetControls(ctx, ControlsFor(cfg)); err != nil {
		return backend.Result{}, b.handleErr(s, cfg.Index, "set controls", err)
	}
	if cfg.TimeoutMillis > 0 {
		if err := b.sleep(ctx, time.Duration(cfg.TimeoutMillis)*time.Millisecond); err != nil {
			return backend.Result{}, wrapErr(cfg.Index, "settle", err)
		}
	}

	for i := 0; i < cfg.DenoiseFrames; i++ {
		if _, err := s.handle.CaptureMetadata(ctx); err != nil {
			return backend.Result{}, b.handleErr(s, cfg.Index, "denoise warmup", err)
		}
	}

	start := time.Now()
	md, err := s.handle.CaptureFile(ctx, outputPath, FileFormat(cfg.Encoding))
	if err != nil {
		_ = os.Remove(outputPath)
		return backend.Result{}, b.handleErr(s, cfg.Index, "capture file", err)
	}
	result := backend.Result{Paths: []string{outputPath}}
	if cfg.Raw {
		raw := backend.RawPath(outputPath)
		if err := s.handle.CaptureRaw(ctx, raw); err != nil {
			_ = os.Remove(outputPath)
			_ = os.Remove(raw)
			return backend.Result{}, b.handleErr(s, cfg.Index, "capture raw", err)
		}
		result.Paths = append(result.Paths, raw)
	}

	if md == nil {
		result.MetadataErr = errors.New("camera reported no metadata for the captured frame")
	} else {
		result.Metadata, result.MetadataErr = ParseMetadata(md)
	}
	if result.MetadataErr != nil {
		logging.WarnWithContext(logger, "metadata unavailable", "metadata_unavailable",
			logging.Error(result.MetadataErr),
			logging.String(logging.FieldImpact, "capture record omits sensor metadata"),
		)
	}

	logger.Info("image captured", logging.String("path", outputPath), logging.Duration("elapsed", time.Since(start)))
	return result, nil
}

// AcquireHandle lends the cached handle for index to a caller that needs raw
// handle access, such as calibration. The handle stays locked until release
// is called; the next capture reconfigures it.
func (b *Backend) AcquireHandle(ctx context.Context, index int) (Handle, func(), error) {
	s := b.slotFor(index)
	s.mu.Lock()
	if err := b.ensureOpen(ctx, s, index); err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.shape = nil
			s.mu.Unlock()
		})
	}
	return s.handle, release, nil
}

// Cleanup stops and closes every cached handle. Errors are joined; every
// handle is attempted.
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	slots := b.slots
	b.slots = make(map[int]*slot)
	b.mu.Unlock()

	indices := make([]int, 0, len(slots))
	for index := range slots {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	var errs []error
	for _, index := range indices {
		s := slots[index]
		s.mu.Lock()
		if s.handle != nil {
			if err := closeHandle(s.handle); err != nil {
				errs = append(errs, fmt.Errorf("camera %d: %w", index, err))
				b.logger.Warn("error closing camera", logging.CameraIndex(index), logging.Error(err))
			} else {
				b.logger.Debug("closed camera", logging.CameraIndex(index))
			}
			s.handle = nil
			s.shape = nil
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// OpenHandles returns the indices with a cached handle.
func (b *Backend) OpenHandles() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	indices := make([]int, 0, len(b.slots))
	for index, s := range b.slots {
		if s.handle != nil {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	return indices
}

func (b *Backend) slotFor(index int) *slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[index]
	if !ok {
		s = &slot{}
		b.slots[index] = s
	}
	return s
}

// ensureOpen must be called with s.mu held. A cached handle that reports
// itself closed is dropped and replaced.
func (b *Backend) ensureOpen(ctx context.Context, s *slot, index int) error {
	if s.handle != nil {
		if c, ok := s.handle.(interface{ Closed() bool }); !ok || !c.Closed() {
			return nil
		}
		b.discard(s, index, ErrHandleClosed)
	}
	b.logger.Info("initializing camera", logging.CameraIndex(index))
	handle, err := b.opener.Open(ctx, index)
	if err != nil {
		return services.Wrap(services.ErrHardwareUnavailable, "picam", "open",
			fmt.Sprintf("camera %d", index), err)
	}
	s.handle = handle
	s.shape = nil
	return nil
}

// handleErr wraps a failed handle call. A handle that timed out or lost its
// camera is discarded so the next capture on index opens a fresh one.
// Must be called with s.mu held.
func (b *Backend) handleErr(s *slot, index int, op string, err error) error {
	if errors.Is(err, ErrHandleClosed) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		b.discard(s, index, err)
	}
	return wrapErr(index, op, err)
}

// discard closes and forgets the handle in s. Must be called with s.mu held.
func (b *Backend) discard(s *slot, index int, cause error) {
	if s.handle == nil {
		return
	}
	if err := closeHandle(s.handle); err != nil {
		b.logger.Debug("error closing failed camera", logging.CameraIndex(index), logging.Error(err))
	}
	s.handle = nil
	s.shape = nil
	logging.WarnWithContext(b.logger, "camera handle discarded", "camera_handle_discarded",
		logging.CameraIndex(index),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "camera is reopened on the next capture"),
	)
}

func wrapErr(index int, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrCaptureTimeout, "picam", op, fmt.Sprintf("camera %d", index), err)
	}
	return services.Wrap(services.ErrCaptureProcess, "picam", op, fmt.Sprintf("camera %d", index), err)
}

func closeHandle(h Handle) error {
	var stopErr error
	if h.Started() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stopErr = h.Stop(ctx)
		cancel()
	}
	return errors.Join(stopErr, h.Close())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

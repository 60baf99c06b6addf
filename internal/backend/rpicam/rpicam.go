package rpicam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"folio/internal/backend"
	"folio/internal/camera"
	"folio/internal/logging"
	"folio/internal/services"
)

const (
	// Name is recorded as the backend in provenance.
	Name = "rpicam-subprocess"

	defaultListTimeout    = 5 * time.Second
	defaultCaptureTimeout = 10 * time.Second
	stderrTailLines       = 12
)

// Option configures the backend.
type Option func(*Backend)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(b *Backend) {
		if exec != nil {
			b.exec = exec
		}
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logging.NewComponentLogger(logger, "rpicam")
	}
}

// WithTimeouts overrides the enumeration and capture deadlines. Non-positive
// values keep the defaults.
func WithTimeouts(list, capture time.Duration) Option {
	return func(b *Backend) {
		if list > 0 {
			b.listTimeout = list
		}
		if capture > 0 {
			b.captureTimeout = capture
		}
	}
}

// Backend runs rpicam-still for every operation.
type Backend struct {
	binary         string
	listTimeout    time.Duration
	captureTimeout time.Duration
	exec           Executor
	logger         *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a subprocess backend for binary.
func New(binary string, opts ...Option) (*Backend, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("rpicam-still binary required")
	}
	b := &Backend{
		binary:         binary,
		listTimeout:    defaultListTimeout,
		captureTimeout: defaultCaptureTimeout,
		exec:           commandExecutor{},
		logger:         logging.NewComponentLogger(nil, "rpicam"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) SupportsStreaming() bool { return false }

func (b *Backend) SupportsLiveAdjustment() bool { return false }

func (b *Backend) Cleanup() error { return nil }

// IsConnected reports whether --list-cameras enumerates index. Any probe
// failure, including the enumeration timeout, reports false.
func (b *Backend) IsConnected(ctx context.Context, index int) bool {
	lines, err := b.listCameras(ctx)
	if err != nil {
		logging.WarnWithContext(b.logger, "camera probe failed", "camera_probe_failed",
			logging.CameraIndex(index),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the camera ribbon cable and that no other process holds the camera"),
			logging.String(logging.FieldImpact, "camera reported as disconnected"),
		)
		return false
	}
	prefix := strconv.Itoa(index) + " :"
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			return true
		}
	}
	b.logger.Debug("camera not enumerated", logging.CameraIndex(index))
	return false
}

// ListCameras parses --list-cameras output into camera descriptions.
func (b *Backend) ListCameras(ctx context.Context) ([]backend.Info, error) {
	lines, err := b.listCameras(ctx)
	if err != nil {
		return nil, err
	}
	return ParseCameraList(lines), nil
}

func (b *Backend) listCameras(ctx context.Context) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, b.listTimeout)
	defer cancel()

	var lines []string
	err := b.exec.Run(listCtx, b.binary, []string{"--list-cameras"}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		if errors.Is(listCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrConnectivity, "rpicam", "list cameras",
				fmt.Sprintf("timed out after %s", b.listTimeout), err)
		}
		return nil, services.Wrap(services.ErrConnectivity, "rpicam", "list cameras", "", err)
	}
	return lines, nil
}

var cameraLine = regexp.MustCompile(`^\s*(\d+)\s*:\s*(\S+)\s*(?:\[([^\]]*)\])?\s*(?:\(([^)]*)\))?`)

// ParseCameraList extracts one Info per "<index> : <model> [modes] (<id>)" line.
// Mode detail lines and headers are skipped.
func ParseCameraList(lines []string) []backend.Info {
	var cameras []backend.Info
	for _, line := range lines {
		match := cameraLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		cameras = append(cameras, backend.Info{
			Index: index,
			Model: match[2],
			Modes: strings.TrimSpace(match[3]),
			ID:    strings.TrimSpace(match[4]),
		})
	}
	return cameras
}

// Capture runs one rpicam-still process. On any failure the partially written
// output (and raw companion) is removed.
func (b *Backend) Capture(ctx context.Context, outputPath string, cfg camera.Config) (backend.Result, error) {
	if err := cfg.Validate(); err != nil {
		return backend.Result{}, services.Wrap(services.ErrValidation, "rpicam", "capture", "invalid camera config", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return backend.Result{}, services.Wrap(services.ErrCaptureProcess, "rpicam", "capture", "create output directory", err)
	}

	args := BuildArgs(outputPath, cfg)
	logger := b.logger.With(logging.CameraIndex(cfg.Index))
	logger.Debug("executing capture", logging.String("command", b.binary+" "+strings.Join(args, " ")))

	captureCtx, cancel := context.WithTimeout(ctx, b.captureTimeout)
	defer cancel()

	tail := newLineTail(stderrTailLines)
	start := time.Now()
	err := b.exec.Run(captureCtx, b.binary, args, tail.add)
	if err != nil {
		removePartial(outputPath, cfg.Raw)
		if errors.Is(captureCtx.Err(), context.DeadlineExceeded) {
			return backend.Result{}, services.Wrap(services.ErrCaptureTimeout, "rpicam", "capture",
				fmt.Sprintf("camera %d timed out after %s", cfg.Index, b.captureTimeout), err)
		}
		detail := fmt.Sprintf("camera %d", cfg.Index)
		if output := tail.String(); output != "" {
			detail += ": " + output
		}
		return backend.Result{}, services.Wrap(services.ErrCaptureProcess, "rpicam", "capture", detail, err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		removePartial(outputPath, cfg.Raw)
		return backend.Result{}, services.Wrap(services.ErrCaptureProcess, "rpicam", "capture",
			fmt.Sprintf("camera %d produced no output file", cfg.Index), err)
	}

	result := backend.Result{Paths: []string{outputPath}}
	if cfg.Raw {
		raw := backend.RawPath(outputPath)
		if _, err := os.Stat(raw); err == nil {
			result.Paths = append(result.Paths, raw)
		} else {
			logging.WarnWithContext(logger, "raw companion missing", "raw_missing",
				logging.String("path", raw),
				logging.String(logging.FieldImpact, "only the processed image is archived"),
			)
		}
	}
	logger.Info("image captured", logging.String("path", outputPath), logging.Duration("elapsed", time.Since(start)))
	return result, nil
}

func removePartial(outputPath string, raw bool) {
	_ = os.Remove(outputPath)
	if raw {
		_ = os.Remove(backend.RawPath(outputPath))
	}
}

// lineTail keeps the last n output lines for error reports.
type lineTail struct {
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, " | ")
}

package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"folio/internal/backend"
	"folio/internal/backend/picam"
	"folio/internal/camera"
	"folio/internal/logging"
	"folio/internal/services"
)

// Defaults for white balance convergence.
const (
	DefaultFrames    = 30
	DefaultWindow    = 10
	DefaultThreshold = 0.05
)

// HandleSource provides exclusive access to an open camera handle. release
// must be called when the procedure is done with it.
type HandleSource interface {
	AcquireHandle(ctx context.Context, index int) (handle picam.Handle, release func(), err error)
}

// OpenerSource opens a dedicated handle per procedure and closes it on release.
type OpenerSource struct {
	Opener picam.Opener
}

// AcquireHandle opens index through the opener.
func (s OpenerSource) AcquireHandle(ctx context.Context, index int) (picam.Handle, func(), error) {
	if s.Opener == nil {
		return nil, nil, errors.New("no camera opener configured")
	}
	h, err := s.Opener.Open(ctx, index)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrHardwareUnavailable, "calibration", "open", fmt.Sprintf("camera %d", index), err)
	}
	release := func() {
		if h.Started() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = h.Stop(stopCtx)
			cancel()
		}
		_ = h.Close()
	}
	return h, release, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.NewComponentLogger(logger, "calibration")
	}
}

// WithConvergence overrides the white balance convergence window and threshold.
func WithConvergence(window int, threshold float64) Option {
	return func(e *Engine) {
		if window > 0 {
			e.window = window
		}
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs calibration procedures.
type Engine struct {
	source    HandleSource
	logger    *slog.Logger
	window    int
	threshold float64
	now       func() time.Time
}

// NewEngine returns an engine drawing handles from source.
func NewEngine(source HandleSource, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		logger:    logging.NewComponentLogger(nil, "calibration"),
		window:    DefaultWindow,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Progress is called after each white balance sample.
type Progress func(done, total int)

// Options selects the procedures run by Calibrate.
type Options struct {
	Focus        bool
	WhiteBalance bool
	Size         camera.Size
	Frames       int
	Progress     Progress
}

// Calibrate runs the selected procedures and returns the combined profile.
func (e *Engine) Calibrate(ctx context.Context, index int, opts Options) (*Profile, error) {
	if !opts.Focus && !opts.WhiteBalance {
		return nil, services.Wrap(services.ErrValidation, "calibration", "calibrate", "", errors.New("no procedure selected"))
	}
	profile := NewProfile(index)
	if opts.Focus {
		result, err := e.CalibrateFocus(ctx, index, opts.Size)
		if err != nil {
			return nil, err
		}
		profile.Focus = &result
	}
	if opts.WhiteBalance {
		result, err := e.CalibrateWhiteBalance(ctx, index, opts.Size, opts.Frames, opts.Progress)
		if err != nil {
			return nil, err
		}
		profile.WhiteBalance = &result
	}
	at := e.now().UTC()
	profile.CalibratedAt = &at
	return profile, nil
}

// CalibrateFocus runs one autofocus cycle at size and reads back the
// converged lens position.
func (e *Engine) CalibrateFocus(ctx context.Context, index int, size camera.Size) (FocusResult, error) {
	logger := e.logger.With(logging.CameraIndex(index), logging.String("procedure", "focus"))
	h, release, err := e.acquire(ctx, index)
	if err != nil {
		return FocusResult{}, err
	}
	defer release()

	if err := prepare(ctx, h, size, index); err != nil {
		return FocusResult{}, err
	}
	if err := h.SetControls(ctx, picam.Controls{picam.ControlAfMode: picam.AfModeAuto}); err != nil {
		return e.focusFailure(logger, FocusResult{}, fmt.Errorf("enable autofocus: %w", err)), nil
	}

	logger.Info("running autofocus", logging.String("size", size.String()))
	start := e.now()
	converged, err := h.AutofocusCycle(ctx)
	result := FocusResult{AFTimeSeconds: e.now().Sub(start).Seconds()}
	if err != nil {
		return e.focusFailure(logger, result, fmt.Errorf("autofocus cycle: %w", err)), nil
	}
	if !converged {
		return e.focusFailure(logger, result, errors.New("autofocus did not converge")), nil
	}

	md, err := h.CaptureMetadata(ctx)
	if err != nil {
		return e.focusFailure(logger, result, fmt.Errorf("read metadata: %w", err)), nil
	}
	lp, ok := picam.LensPosition(md)
	if !ok {
		return e.focusFailure(logger, result, errors.New("lens position not reported")), nil
	}

	result.Success = true
	result.LensPosition = &lp
	if lp > 0 {
		distance := 1 / lp
		result.DistanceMeters = &distance
	} else {
		result.AtInfinity = true
	}
	logger.Info("autofocus converged",
		logging.Float64("lens_position", lp),
		logging.Float64("af_time_seconds", result.AFTimeSeconds),
		logging.Bool("at_infinity", result.AtInfinity),
	)
	return result, nil
}

// CalibrateWhiteBalance enables AWB, samples colour gains for frames frames,
// and judges convergence over the engine's window.
func (e *Engine) CalibrateWhiteBalance(ctx context.Context, index int, size camera.Size, frames int, progress Progress) (WhiteBalanceResult, error) {
	if frames <= 0 {
		frames = DefaultFrames
	}
	logger := e.logger.With(logging.CameraIndex(index), logging.String("procedure", "white_balance"))
	h, release, err := e.acquire(ctx, index)
	if err != nil {
		return WhiteBalanceResult{}, err
	}
	defer release()

	if err := prepare(ctx, h, size, index); err != nil {
		return WhiteBalanceResult{}, err
	}
	result := WhiteBalanceResult{Frames: frames}
	controls := picam.Controls{
		picam.ControlAwbEnable: true,
		picam.ControlAwbMode:   camera.AWBAuto.Code(),
	}
	if err := h.SetControls(ctx, controls); err != nil {
		return e.whiteBalanceFailure(logger, result, fmt.Errorf("enable awb: %w", err)), nil
	}

	var red, blue []float64
	var last *backend.ColourGain
	for i := 0; i < frames; i++ {
		md, err := h.CaptureMetadata(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return e.whiteBalanceFailure(logger, result, ctx.Err()), nil
			}
			logger.Debug("sample failed", logging.Int("frame", i), logging.Error(err))
		} else if gains, ok := picam.ColourGains(md); ok {
			red = append(red, gains.Red)
			blue = append(blue, gains.Blue)
			last = &gains
		}
		if progress != nil {
			progress(i+1, frames)
		}
	}
	result.Samples = len(red)

	final, err := h.CaptureMetadata(ctx)
	if err == nil {
		if md, perr := picam.ParseMetadata(final); perr == nil {
			result.ColourTemperature = md.ColourTemperature
			if md.ColourGains != nil {
				last = md.ColourGains
			}
		}
	}
	if last == nil {
		return e.whiteBalanceFailure(logger, result, errors.New("colour gains not reported")), nil
	}

	result.Success = true
	result.Gains = last
	if rs, ok := SpreadOf(red, e.window); ok {
		bs, _ := SpreadOf(blue, e.window)
		result.Variance = &Spread{Red: rs, Blue: bs}
	}
	result.Converged = Converged(red, blue, e.window, e.threshold)

	attrs := []logging.Attr{
		logging.Float64("red_gain", last.Red),
		logging.Float64("blue_gain", last.Blue),
		logging.Int("colour_temperature", result.ColourTemperature),
		logging.Int("samples", result.Samples),
	}
	if result.Converged {
		logger.Info("white balance converged", logging.Args(attrs...)...)
	} else {
		logging.WarnWithContext(logger, "white balance did not converge", "calibration_not_converged",
			append(attrs,
				logging.String(logging.FieldErrorHint, "keep lighting constant and re-run calibration"),
				logging.String(logging.FieldImpact, "gains recorded but not recommended"),
			)...,
		)
	}
	return result, nil
}

func (e *Engine) acquire(ctx context.Context, index int) (picam.Handle, func(), error) {
	if e.source == nil {
		return nil, nil, services.Wrap(services.ErrHardwareUnavailable, "calibration", "acquire", "", errors.New("no handle source configured"))
	}
	h, release, err := e.source.AcquireHandle(ctx, index)
	if err != nil {
		if errors.Is(err, services.ErrHardwareUnavailable) {
			return nil, nil, err
		}
		return nil, nil, services.Wrap(services.ErrHardwareUnavailable, "calibration", "acquire", fmt.Sprintf("camera %d", index), err)
	}
	return h, release, nil
}

// prepare configures and starts h at size. Any failure means the hardware is
// unavailable.
func prepare(ctx context.Context, h picam.Handle, size camera.Size, index int) error {
	if size.IsZero() {
		size, _ = camera.ResolutionFor(camera.ResolutionHigh)
	}
	if h.Started() {
		if err := h.Stop(ctx); err != nil {
			return services.Wrap(services.ErrHardwareUnavailable, "calibration", "stop", fmt.Sprintf("camera %d", index), err)
		}
	}
	shape := picam.StreamConfig{Size: size, Format: "BGR888", BufferCount: camera.DefaultBufferCount}
	if err := h.Configure(ctx, shape); err != nil {
		return services.Wrap(services.ErrHardwareUnavailable, "calibration", "configure", fmt.Sprintf("camera %d", index), err)
	}
	if err := h.Start(ctx); err != nil {
		return services.Wrap(services.ErrHardwareUnavailable, "calibration", "start", fmt.Sprintf("camera %d", index), err)
	}
	return nil
}

func (e *Engine) focusFailure(logger *slog.Logger, result FocusResult, err error) FocusResult {
	result.Success = false
	result.Error = err.Error()
	logging.WarnWithContext(logger, "focus calibration failed", "calibration_focus_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the subject is at working distance and well lit, then re-run"),
		logging.String(logging.FieldImpact, "captures keep using autofocus"),
	)
	return result
}

func (e *Engine) whiteBalanceFailure(logger *slog.Logger, result WhiteBalanceResult, err error) WhiteBalanceResult {
	result.Success = false
	result.Error = err.Error()
	logging.WarnWithContext(logger, "white balance calibration failed", "calibration_wb_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "re-run calibration"),
		logging.String(logging.FieldImpact, "captures keep using the configured awb mode"),
	)
	return result
}

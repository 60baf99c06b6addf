package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"folio/internal/calibration"
	"folio/internal/camera"
	"folio/internal/logging"
	"folio/internal/services"
)

// CalibrateOptions selects the procedures run by Calibrate. When neither
// procedure is selected both run.
type CalibrateOptions struct {
	Focus        bool
	WhiteBalance bool
	// Resolution is a preset name; empty uses calibration.focus_resolution.
	Resolution string
	// Frames is the white balance sample count; zero uses the configured count.
	Frames                int
	Progress              calibration.Progress
	SkipConnectivityCheck bool
}

// Calibrate runs calibration on the camera at index and stores the profile
// against its hardware identity, registering the camera first when needed.
// Procedures that fail to converge are recorded in the profile, not returned
// as errors; use Profile.Err to inspect them.
func (o *Orchestrator) Calibrate(ctx context.Context, index int, opts CalibrateOptions) (string, *calibration.Profile, error) {
	if o.engine == nil {
		return "", nil, services.Wrap(services.ErrCalibration, "capture", "calibrate", "", errors.New("no calibration engine configured"))
	}
	if o.registry == nil {
		return "", nil, services.Wrap(services.ErrCalibration, "capture", "calibrate", "", errors.New("no camera registry configured"))
	}
	if index < 0 {
		return "", nil, services.Wrap(services.ErrValidation, "capture", "calibrate", fmt.Sprintf("camera %d", index), errors.New("camera index must be >= 0"))
	}
	if !opts.Focus && !opts.WhiteBalance {
		opts.Focus, opts.WhiteBalance = true, true
	}
	preset := strings.TrimSpace(opts.Resolution)
	if preset == "" {
		preset = o.cfg.Calibration.FocusResolution
	}
	size, err := camera.ResolutionFor(preset)
	if err != nil {
		return "", nil, services.Wrap(services.ErrValidation, "capture", "calibrate", "resolution", err)
	}
	frames := opts.Frames
	if frames <= 0 {
		frames = o.cfg.Calibration.WhiteBalanceFrames
	}

	release, err := o.reserve(index)
	if err != nil {
		return "", nil, err
	}
	defer release()

	ctx = services.WithCameraIndex(ctx, index)
	logger := logging.WithContext(ctx, o.logger)
	if _, err := o.enumerate(ctx, logger, []int{index}, opts.SkipConnectivityCheck); err != nil {
		return "", nil, err
	}

	profile, err := o.engine.Calibrate(ctx, index, calibration.Options{
		Focus:        opts.Focus,
		WhiteBalance: opts.WhiteBalance,
		Size:         size,
		Frames:       frames,
		Progress:     opts.Progress,
	})
	if err != nil {
		return "", nil, err
	}

	id, err := o.registry.RegisterCamera(ctx, index, nil, false)
	if err != nil {
		return "", profile, err
	}
	if err := o.registry.UpdateCalibration(ctx, id, profile); err != nil {
		return id, profile, err
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldHardwareID, id),
		logging.String("resolution", preset),
	}
	if profile.FocusUsable() {
		attrs = append(attrs, logging.Float64("lens_position", *profile.Focus.LensPosition))
	}
	if profile.WhiteBalance != nil {
		attrs = append(attrs, logging.Bool("awb_converged", profile.WhiteBalance.Converged))
	}
	if perr := profile.Err(); perr != nil {
		attrs = append(attrs,
			logging.Error(perr),
			logging.String(logging.FieldErrorHint, "check lighting and target, then re-run folio calibrate"),
			logging.String(logging.FieldImpact, "captures fall back to autofocus or automatic white balance"),
		)
		logging.WarnWithContext(logger, "calibration stored with failures", "calibration_incomplete", attrs...)
	} else {
		logger.Info("calibration stored", logging.Args(attrs...)...)
	}
	return id, profile, nil
}

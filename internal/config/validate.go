package config

import (
	"errors"
	"fmt"
	"strings"

	"folio/internal/camera"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateCaptureDefaults(); err != nil {
		return err
	}
	if err := c.validateCalibration(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.ProjectsRoot) == "" {
		return errors.New("paths.projects_root must be set")
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		return errors.New("paths.registry_path must be set")
	}
	return nil
}

func (c *Config) validateCamera() error {
	switch c.Camera.Backend {
	case BackendSubprocess, BackendPersistent:
	default:
		return fmt.Errorf("camera.backend must be %q or %q, got %q", BackendSubprocess, BackendPersistent, c.Camera.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"camera.list_timeout":    c.Camera.ListTimeout,
		"camera.capture_timeout": c.Camera.CaptureTimeout,
	}); err != nil {
		return err
	}
	if c.Camera.StaggerMillis < 0 {
		return errors.New("camera.stagger_ms must be >= 0")
	}
	if _, err := camera.ResolutionFor(c.Camera.DefaultResolution); err != nil {
		return fmt.Errorf("camera.default_resolution: %w", err)
	}
	if c.Camera.LeftIndex < 0 || c.Camera.RightIndex < 0 {
		return errors.New("camera.left_index and camera.right_index must be >= 0")
	}
	if c.Camera.LeftIndex == c.Camera.RightIndex {
		return errors.New("camera.left_index and camera.right_index must differ")
	}
	return nil
}

func (c *Config) validateCaptureDefaults() error {
	d := c.CaptureDefaults
	if _, err := camera.ParseAWBMode(d.AWB); err != nil {
		return fmt.Errorf("capture_defaults.awb: %w", err)
	}
	if _, err := camera.ParseEncoding(d.Encoding); err != nil {
		return fmt.Errorf("capture_defaults.encoding: %w", err)
	}
	if d.Quality < 1 || d.Quality > 100 {
		return errors.New("capture_defaults.quality must be between 1 and 100")
	}
	if d.TimeoutMillis < 0 {
		return errors.New("capture_defaults.timeout_ms must be >= 0")
	}
	if d.BufferCount < 1 {
		return errors.New("capture_defaults.buffer_count must be >= 1")
	}
	if d.DenoiseFrames < 0 {
		return errors.New("capture_defaults.denoise_frames must be >= 0")
	}
	return nil
}

func (c *Config) validateCalibration() error {
	if _, err := camera.ResolutionFor(c.Calibration.FocusResolution); err != nil {
		return fmt.Errorf("calibration.focus_resolution: %w", err)
	}
	if c.Calibration.ConvergenceWindow > c.Calibration.WhiteBalanceFrames {
		return errors.New("calibration.convergence_window must not exceed calibration.white_balance_frames")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

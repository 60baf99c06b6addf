package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCamera()
	c.normalizeCaptureDefaults()
	c.normalizeCalibration()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv("FOLIO_PROJECTS_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.ProjectsRoot = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("FOLIO_CAMERA_BACKEND"); ok && strings.TrimSpace(value) != "" {
		c.Camera.Backend = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("FOLIO_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.TrimSpace(value)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.ProjectsRoot) == "" {
		c.Paths.ProjectsRoot = defaultProjectsRoot
	}
	if c.Paths.ProjectsRoot, err = expandPath(c.Paths.ProjectsRoot); err != nil {
		return fmt.Errorf("paths.projects_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		c.Paths.RegistryPath = filepath.Join(c.Paths.ProjectsRoot, defaultRegistryFile)
	}
	if c.Paths.RegistryPath, err = expandPath(c.Paths.RegistryPath); err != nil {
		return fmt.Errorf("paths.registry_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeCamera() {
	c.Camera.Backend = strings.ToLower(strings.TrimSpace(c.Camera.Backend))
	if c.Camera.Backend == "" {
		c.Camera.Backend = defaultBackend
	}
	c.Camera.StillBinary = strings.TrimSpace(c.Camera.StillBinary)
	if c.Camera.StillBinary == "" {
		c.Camera.StillBinary = defaultStillBinary
	}
	c.Camera.HelperBinary = strings.TrimSpace(c.Camera.HelperBinary)
	if c.Camera.HelperBinary == "" {
		c.Camera.HelperBinary = defaultHelperBinary
	}
	c.Camera.DefaultResolution = strings.ToLower(strings.TrimSpace(c.Camera.DefaultResolution))
	if c.Camera.DefaultResolution == "" {
		c.Camera.DefaultResolution = defaultResolution
	}
}

func (c *Config) normalizeCaptureDefaults() {
	c.CaptureDefaults.AWB = strings.ToLower(strings.TrimSpace(c.CaptureDefaults.AWB))
	if c.CaptureDefaults.AWB == "" {
		c.CaptureDefaults.AWB = "indoor"
	}
	c.CaptureDefaults.Encoding = strings.ToLower(strings.TrimSpace(c.CaptureDefaults.Encoding))
	switch c.CaptureDefaults.Encoding {
	case "":
		c.CaptureDefaults.Encoding = "jpg"
	case "jpeg":
		c.CaptureDefaults.Encoding = "jpg"
	}
}

func (c *Config) normalizeCalibration() {
	c.Calibration.FocusResolution = strings.ToLower(strings.TrimSpace(c.Calibration.FocusResolution))
	if c.Calibration.FocusResolution == "" {
		c.Calibration.FocusResolution = defaultResolution
	}
	if c.Calibration.WhiteBalanceFrames <= 0 {
		c.Calibration.WhiteBalanceFrames = defaultWhiteBalanceFrames
	}
	if c.Calibration.ConvergenceWindow <= 0 {
		c.Calibration.ConvergenceWindow = defaultConvergenceWindow
	}
	if c.Calibration.ConvergenceThreshold <= 0 {
		c.Calibration.ConvergenceThreshold = defaultConvergenceThreshold
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"folio/internal/camera"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains storage locations.
type Paths struct {
	ProjectsRoot string `toml:"projects_root"`
	LogDir       string `toml:"log_dir"`
	RegistryPath string `toml:"registry_path"`
}

// Camera contains backend selection and process timing.
type Camera struct {
	Backend           string `toml:"backend"`
	StillBinary       string `toml:"still_binary"`
	HelperBinary      string `toml:"helper_binary"`
	ListTimeout       int    `toml:"list_timeout"`
	CaptureTimeout    int    `toml:"capture_timeout"`
	StaggerMillis     int    `toml:"stagger_ms"`
	DefaultResolution string `toml:"default_resolution"`
	UseCalibration    bool   `toml:"use_calibration"`
	LeftIndex         int    `toml:"left_index"`
	RightIndex        int    `toml:"right_index"`
}

// CaptureDefaults seeds the per-camera configuration before calibration is applied.
type CaptureDefaults struct {
	AWB                string `toml:"awb"`
	TimeoutMillis      int    `toml:"timeout_ms"`
	AutofocusOnCapture bool   `toml:"autofocus_on_capture"`
	BufferCount        int    `toml:"buffer_count"`
	Quality            int    `toml:"quality"`
	Encoding           string `toml:"encoding"`
	VFlip              bool   `toml:"vflip"`
	HFlip              bool   `toml:"hflip"`
	Thumbnail          bool   `toml:"thumbnail"`
	NoPreview          bool   `toml:"nopreview"`
	ZSL                bool   `toml:"zsl"`
	Raw                bool   `toml:"raw"`
	DenoiseFrames      int    `toml:"denoise_frames"`
}

// Calibration contains focus and white balance procedure settings.
type Calibration struct {
	WhiteBalanceFrames   int     `toml:"white_balance_frames"`
	ConvergenceWindow    int     `toml:"convergence_window"`
	ConvergenceThreshold float64 `toml:"convergence_threshold"`
	FocusResolution      string  `toml:"focus_resolution"`
}

// Daemon contains settings for the long-running capture service.
type Daemon struct {
	Hotplug               bool `toml:"hotplug"`
	HotplugDebounceMillis int  `toml:"hotplug_debounce_ms"`
	DetectOnStart         bool `toml:"detect_on_start"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for folio.
//
// Configuration sections by subsystem:
//   - Paths: project storage, logs, and the camera registry file
//   - Camera: backend selection, binaries, timeouts, and dual-capture layout
//   - CaptureDefaults: per-camera settings applied before calibration
//   - Calibration: white balance sampling and convergence thresholds
//   - Daemon: hotplug monitoring
//   - Logging: log format and level
type Config struct {
	Paths           Paths           `toml:"paths"`
	Camera          Camera          `toml:"camera"`
	CaptureDefaults CaptureDefaults `toml:"capture_defaults"`
	Calibration     Calibration     `toml:"calibration"`
	Daemon          Daemon          `toml:"daemon"`
	Logging         Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads ./.env when present. Variables already set in the
// environment win over the file.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("folio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ProjectsRoot, c.Paths.LogDir, filepath.Dir(c.Paths.RegistryPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon's JSON-RPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "folio.sock")
}

// LockPath returns the daemon's single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "foliod.lock")
}

// ListTimeout bounds camera enumeration and connectivity probes.
func (c *Config) ListTimeout() time.Duration {
	return time.Duration(c.Camera.ListTimeout) * time.Second
}

// CaptureTimeout bounds a single subprocess capture.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeout) * time.Second
}

// Stagger is the delay between launching the two cameras of a dual capture.
func (c *Config) Stagger() time.Duration {
	return time.Duration(c.Camera.StaggerMillis) * time.Millisecond
}

// HotplugDebounce is the quiet period before hotplug events trigger detection.
func (c *Config) HotplugDebounce() time.Duration {
	return time.Duration(c.Daemon.HotplugDebounceMillis) * time.Millisecond
}

// CameraDefaults builds the pre-calibration camera configuration for index at
// the configured default resolution. Values were validated on load.
func (c *Config) CameraDefaults(index int) camera.Config {
	cfg := camera.Default(index)
	if size, err := camera.ResolutionFor(c.Camera.DefaultResolution); err == nil {
		cfg.Size = size
	}
	d := c.CaptureDefaults
	if mode, err := camera.ParseAWBMode(d.AWB); err == nil {
		cfg.AWB = mode
	}
	if enc, err := camera.ParseEncoding(d.Encoding); err == nil {
		cfg.Encoding = enc
	}
	cfg.TimeoutMillis = d.TimeoutMillis
	cfg.AutofocusOnCapture = d.AutofocusOnCapture
	cfg.BufferCount = d.BufferCount
	cfg.Quality = d.Quality
	cfg.VFlip = d.VFlip
	cfg.HFlip = d.HFlip
	cfg.Thumbnail = d.Thumbnail
	cfg.NoPreview = d.NoPreview
	cfg.ZSL = d.ZSL
	cfg.Raw = d.Raw
	cfg.DenoiseFrames = d.DenoiseFrames
	return cfg
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

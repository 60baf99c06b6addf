package config

const (
	defaultConfigPath           = "~/.config/folio/config.toml"
	defaultProjectsRoot         = "~/.local/share/folio/projects"
	defaultLogDir               = "~/.local/share/folio/logs"
	defaultRegistryFile         = "cameras.json"
	defaultBackend              = BackendSubprocess
	defaultStillBinary          = "rpicam-still"
	defaultHelperBinary         = "folio-camhelper"
	defaultListTimeout          = 5
	defaultCaptureTimeout       = 10
	defaultStaggerMillis        = 20
	defaultResolution           = "high"
	defaultWhiteBalanceFrames   = 30
	defaultConvergenceWindow    = 10
	defaultConvergenceThreshold = 0.05
	defaultHotplugDebounce      = 1500
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Backend kinds accepted by camera.backend.
const (
	BackendSubprocess = "subprocess"
	BackendPersistent = "persistent"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ProjectsRoot: defaultProjectsRoot,
			LogDir:       defaultLogDir,
		},
		Camera: Camera{
			Backend:           defaultBackend,
			StillBinary:       defaultStillBinary,
			HelperBinary:      defaultHelperBinary,
			ListTimeout:       defaultListTimeout,
			CaptureTimeout:    defaultCaptureTimeout,
			StaggerMillis:     defaultStaggerMillis,
			DefaultResolution: defaultResolution,
			UseCalibration:    true,
			LeftIndex:         0,
			RightIndex:        1,
		},
		CaptureDefaults: CaptureDefaults{
			AWB:                "indoor",
			TimeoutMillis:      50,
			AutofocusOnCapture: true,
			BufferCount:        2,
			Quality:            93,
			Encoding:           "jpg",
			NoPreview:          true,
		},
		Calibration: Calibration{
			WhiteBalanceFrames:   defaultWhiteBalanceFrames,
			ConvergenceWindow:    defaultConvergenceWindow,
			ConvergenceThreshold: defaultConvergenceThreshold,
			FocusResolution:      defaultResolution,
		},
		Daemon: Daemon{
			Hotplug:               true,
			HotplugDebounceMillis: defaultHotplugDebounce,
			DetectOnStart:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

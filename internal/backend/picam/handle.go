package picam

import (
	"context"
	"errors"

	"folio/internal/backend"
	"folio/internal/camera"
)

// Control names understood by the camera stack.
const (
	ControlAwbMode      = "AwbMode"
	ControlAwbEnable    = "AwbEnable"
	ControlAfMode       = "AfMode"
	ControlLensPosition = "LensPosition"
)

// Autofocus modes for ControlAfMode.
const (
	AfModeManual     = 0
	AfModeAuto       = 1
	AfModeContinuous = 2
)

// ErrHandleClosed is returned by a handle that can no longer reach the
// camera, because it was closed, timed out, or its process exited. The
// backend discards such a handle and opens a new one on the next capture.
var ErrHandleClosed = errors.New("handle closed")

// StreamConfig is the stream shape applied by Configure. Two configs that
// compare equal never require a reconfigure.
type StreamConfig struct {
	Size        camera.Size `json:"size"`
	Format      string      `json:"format"`
	BufferCount int         `json:"buffer_count"`
	HFlip       bool        `json:"hflip"`
	VFlip       bool        `json:"vflip"`
}

// Controls maps control names to values.
type Controls map[string]any

// RawMetadata is the frame metadata as reported by the camera stack.
type RawMetadata map[string]any

// Handle is an open camera. Implementations need not be safe for concurrent
// use; the backend serializes access per index.
type Handle interface {
	Configure(ctx context.Context, cfg StreamConfig) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Started() bool
	SetControls(ctx context.Context, controls Controls) error
	// CaptureFile writes the next frame to path and returns that frame's
	// metadata, which may be nil when the stack does not report it. format is
	// "jpeg", "png", or empty to let the stack infer it from the extension.
	CaptureFile(ctx context.Context, path, format string) (RawMetadata, error)
	CaptureRaw(ctx context.Context, path string) error
	CaptureMetadata(ctx context.Context) (RawMetadata, error)
	// AutofocusCycle runs one autofocus sweep and reports whether it converged.
	AutofocusCycle(ctx context.Context) (bool, error)
	Close() error
}

// Opener opens camera handles and enumerates attached cameras.
type Opener interface {
	Open(ctx context.Context, index int) (Handle, error)
	List(ctx context.Context) ([]backend.Info, error)
}

// ShapeFor derives the stream shape for cfg.
func ShapeFor(cfg camera.Config) StreamConfig {
	format := "BGR888"
	if cfg.Encoding == camera.EncodingRGB {
		format = "RGB888"
	}
	return StreamConfig{
		Size:        cfg.Size,
		Format:      format,
		BufferCount: cfg.BufferCount,
		HFlip:       cfg.HFlip,
		VFlip:       cfg.VFlip,
	}
}

// ControlsFor derives the per-capture controls for cfg.
func ControlsFor(cfg camera.Config) Controls {
	controls := Controls{
		ControlAwbMode: cfg.AWB.Code(),
		ControlAfMode:  AfModeManual,
	}
	if cfg.AutofocusOnCapture {
		controls[ControlAfMode] = AfModeContinuous
	}
	if cfg.LensPosition != nil {
		controls[ControlLensPosition] = *cfg.LensPosition
	}
	return controls
}

// FileFormat maps an encoding to the CaptureFile format argument.
func FileFormat(enc camera.Encoding) string {
	switch enc {
	case camera.EncodingJPG, "":
		return "jpeg"
	case camera.EncodingPNG:
		return "png"
	default:
		return ""
	}
}

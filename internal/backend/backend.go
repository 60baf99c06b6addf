package backend

import (
	"context"
	"path/filepath"
	"strings"

	"folio/internal/camera"
)

// Backend captures still images from a camera index.
type Backend interface {
	// Name is a human readable identifier recorded in provenance.
	Name() string
	// IsConnected reports whether index is currently enumerated. Probe
	// failures and timeouts report false.
	IsConnected(ctx context.Context, index int) bool
	// ListCameras enumerates attached cameras.
	ListCameras(ctx context.Context) ([]Info, error)
	// Capture writes at least one artifact for cfg at outputPath.
	Capture(ctx context.Context, outputPath string, cfg camera.Config) (Result, error)
	SupportsStreaming() bool
	SupportsLiveAdjustment() bool
	// Cleanup releases every held resource. It is safe to call more than once.
	Cleanup() error
}

// Info describes one enumerated camera.
type Info struct {
	Index    int    `json:"index"`
	Model    string `json:"model"`
	ID       string `json:"id"`
	Location string `json:"location,omitempty"`
	Serial   string `json:"serial,omitempty"`
	Modes    string `json:"modes,omitempty"`
}

// Result is the outcome of a successful capture.
type Result struct {
	// Paths lists every artifact written: the primary image first, then any
	// raw companion.
	Paths []string
	// Metadata is nil when the backend cannot report sensor metadata.
	Metadata *Metadata
	// MetadataErr is set when the backend supports metadata but extraction
	// failed. The capture itself still succeeded.
	MetadataErr error
}

// Primary returns the primary artifact path.
func (r Result) Primary() string {
	if len(r.Paths) == 0 {
		return ""
	}
	return r.Paths[0]
}

// Metadata is archival sensor state captured alongside an image.
type Metadata struct {
	ExposureTime      int64       `json:"exposure_time_us,omitempty"`
	AnalogueGain      float64     `json:"analogue_gain,omitempty"`
	DigitalGain       float64     `json:"digital_gain,omitempty"`
	LensPosition      *float64    `json:"lens_position,omitempty"`
	ColourGains       *ColourGain `json:"colour_gains,omitempty"`
	ColourTemperature int         `json:"colour_temperature,omitempty"`
	SensorTimestamp   int64       `json:"sensor_timestamp,omitempty"`
	Lux               float64     `json:"lux,omitempty"`
}

// ColourGain is the red and blue white balance gain pair.
type ColourGain struct {
	Red  float64 `json:"red"`
	Blue float64 `json:"blue"`
}

// RawPath returns the DNG companion path written next to outputPath when raw
// capture is enabled.
func RawPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".dng"
}

package ipc

import (
	"folio/internal/calibration"
	"folio/internal/capture"
	"folio/internal/daemon"
	"folio/internal/manifest"
	"folio/internal/project"
	"folio/internal/registry"
)

// CaptureRequest is the capture API request shape.
type CaptureRequest = capture.Request

// CaptureResponse is the capture API response shape. Capture failures are
// reported in the response, never as RPC errors.
type CaptureResponse = capture.Response

// CalibrateRequest runs calibration on one camera. When neither procedure is
// selected both run.
type CalibrateRequest struct {
	Camera       int    `json:"camera"`
	Focus        bool   `json:"focus"`
	WhiteBalance bool   `json:"white_balance"`
	Resolution   string `json:"resolution,omitempty"`
	Frames       int    `json:"frames,omitempty"`
}

// CalibrateResponse carries the stored profile and the settings it supports.
type CalibrateResponse struct {
	HardwareID     string                     `json:"hardware_id"`
	Profile        *calibration.Profile       `json:"profile"`
	Recommendation calibration.Recommendation `json:"recommendation"`
}

// CamerasRequest lists registered cameras, optionally detecting and
// registering attached cameras first.
type CamerasRequest struct {
	Detect bool `json:"detect"`
}

// CamerasResponse reports the registry and, after detection, the current
// index mapping.
type CamerasResponse struct {
	Mapping      map[int]string   `json:"mapping,omitempty"`
	Cameras      []registry.Entry `json:"cameras"`
	RegistryPath string           `json:"registry_path"`
}

// SetLabelRequest updates user-facing names of a registered camera. Nil
// fields are left unchanged.
type SetLabelRequest struct {
	HardwareID string  `json:"hardware_id"`
	MachineID  *string `json:"machine_id,omitempty"`
	Label      *string `json:"label,omitempty"`
}

// SetLabelResponse returns the updated registry entry.
type SetLabelResponse struct {
	Camera registry.Entry `json:"camera"`
}

// InitProjectRequest initializes a project directory.
type InitProjectRequest struct {
	Name           string `json:"name"`
	Resolution     string `json:"resolution,omitempty"`
	UseCalibration bool   `json:"use_calibration"`
	CreatedBy      string `json:"created_by,omitempty"`
	Force          bool   `json:"force,omitempty"`
}

// InitProjectResponse reports the initialized project.
type InitProjectResponse struct {
	Root    string               `json:"root"`
	Project manifest.ProjectInfo `json:"project"`
}

// ProjectsRequest lists initialized projects.
type ProjectsRequest struct{}

// ProjectsResponse contains project summaries by name.
type ProjectsResponse struct {
	Projects []project.Summary `json:"projects"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and capture runtime status.
type StatusResponse = daemon.Status

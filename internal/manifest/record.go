package manifest

import (
	"folio/internal/backend"
	"folio/internal/camera"
)

// Kind selects which manifest file a record is appended to.
type Kind string

const (
	KindCapture Kind = "capture"
	KindProject Kind = "project"
)

// File names under a project's metadata directory.
const (
	MetadataDir         = "metadata"
	CaptureManifestName = "manifest.jsonl"
	ProjectManifestName = "project_manifest.jsonl"
)

// Status is the outcome recorded for a capture.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// File roles.
const (
	RoleSingle = "single"
	RoleLeft   = "left"
	RoleRight  = "right"
)

// FileEntry describes one artifact produced by a capture.
type FileEntry struct {
	Role         string `json:"role"`
	RelativePath string `json:"relative_path"`
	Bytes        int64  `json:"bytes"`
	MIMEType     string `json:"mimetype"`
	SHA256       string `json:"sha256,omitempty"`
}

// CameraEntry records the camera and the exact configuration used.
type CameraEntry struct {
	CameraIndex   int               `json:"camera_index"`
	HardwareID    string            `json:"hardware_id,omitempty"`
	Model         string            `json:"model,omitempty"`
	Serial        string            `json:"serial,omitempty"`
	Config        camera.Config     `json:"config"`
	Metadata      *backend.Metadata `json:"metadata,omitempty"`
	MetadataError string            `json:"metadata_error,omitempty"`
}

// Timing holds wall-clock measurements. Per-camera durations are keyed by
// launch order, not by index.
type Timing struct {
	Camera1Seconds *float64 `json:"camera1_seconds,omitempty"`
	Camera2Seconds *float64 `json:"camera2_seconds,omitempty"`
	StaggerMillis  *int64   `json:"stagger_ms,omitempty"`
	// LaunchOffsetMillis is the measured gap between the two worker starts.
	LaunchOffsetMillis *float64 `json:"launch_offset_ms,omitempty"`
	StartedAt          string   `json:"started_at,omitempty"`
	TotalSeconds       float64  `json:"total_seconds"`
}

// Software identifies the program that wrote a record.
type Software struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Backend   string `json:"backend,omitempty"`
}

// Host identifies the machine that wrote a record.
type Host struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Machine  string `json:"machine"`
}

// CaptureRecord is one capture event, single or paired.
type CaptureRecord struct {
	CaptureID    string        `json:"capture_id"`
	ProjectName  string        `json:"project_name"`
	PairID       string        `json:"pair_id,omitempty"`
	Sequence     string        `json:"sequence,omitempty"`
	TimestampUTC string        `json:"timestamp_utc"`
	Files        []FileEntry   `json:"files"`
	Cameras      []CameraEntry `json:"cameras"`
	Timing       Timing        `json:"timing"`
	Software     Software      `json:"software"`
	Host         Host          `json:"host"`
	Status       Status        `json:"status"`
	Warnings     []string      `json:"warnings"`
	Error        string        `json:"error,omitempty"`
}

// ProjectPaths are the absolute directories of an initialized project.
type ProjectPaths struct {
	ProjectRoot string `json:"project_root"`
	ImagesMain  string `json:"images_main"`
	ImagesTemp  string `json:"images_temp"`
	ImagesTrash string `json:"images_trash"`
	Packages    string `json:"packages"`
	Metadata    string `json:"metadata"`
}

// CameraDefaults is the per-camera configuration snapshot taken at project
// initialization.
type CameraDefaults struct {
	Cameras            map[string]camera.Config `json:"cameras"`
	ResolutionPreset   string                   `json:"resolution_preset"`
	CalibrationApplied bool                     `json:"calibration_applied"`
}

// ProjectInfo is one project initialization event.
type ProjectInfo struct {
	ProjectID           string         `json:"project_id"`
	ProjectName         string         `json:"project_name"`
	CreatedAt           string         `json:"created_at"`
	CreatedBy           string         `json:"created_by,omitempty"`
	Reinitialized       bool           `json:"reinitialized,omitempty"`
	Paths               ProjectPaths   `json:"paths"`
	DefaultCameraConfig CameraDefaults `json:"default_camera_config"`
	Software            Software       `json:"software"`
	Host                Host           `json:"host"`
}

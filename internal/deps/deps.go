package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"folio/internal/config"
)

// Requirement defines an external binary folio relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CameraRequirements lists the binaries the configured backend needs. The
// still-capture binary is required by the subprocess backend; the helper is
// required by the persistent backend and otherwise only used for calibration.
func CameraRequirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	persistent := cfg.Camera.Backend == config.BackendPersistent
	return []Requirement{
		{
			Name:        "rpicam-still",
			Command:     cfg.Camera.StillBinary,
			Description: "Required for subprocess captures",
			Optional:    persistent,
		},
		{
			Name:        "camera helper",
			Command:     cfg.Camera.HelperBinary,
			Description: "Required for persistent captures and calibration",
			Optional:    !persistent,
		},
	}
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, st := range statuses {
		if !st.Available && !st.Optional {
			missing = append(missing, st)
		}
	}
	return missing
}

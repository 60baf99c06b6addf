package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"folio/internal/backend"
	"folio/internal/camera"
	"folio/internal/fileutil"
	"folio/internal/services"
)

// FocusResult is the outcome of one focus calibration.
type FocusResult struct {
	Success      bool     `json:"success"`
	LensPosition *float64 `json:"lens_position"`
	// DistanceMeters is 1/LensPosition. It is nil when the lens is focused at
	// infinity, which AtInfinity records explicitly.
	DistanceMeters *float64 `json:"distance_meters"`
	AtInfinity     bool     `json:"at_infinity,omitempty"`
	AFTimeSeconds  float64  `json:"af_time"`
	Error          string   `json:"error,omitempty"`
}

// Spread is the max-min range of each gain channel over the convergence window.
type Spread struct {
	Red  float64 `json:"red"`
	Blue float64 `json:"blue"`
}

// WhiteBalanceResult is the outcome of one white balance calibration.
type WhiteBalanceResult struct {
	Success           bool                `json:"success"`
	Converged         bool                `json:"converged"`
	Gains             *backend.ColourGain `json:"gains"`
	ColourTemperature int                 `json:"colour_temperature,omitempty"`
	Variance          *Spread             `json:"variance"`
	Frames            int                 `json:"frames"`
	Samples           int                 `json:"samples"`
	Error             string              `json:"error,omitempty"`
}

// Profile is the calibration document for one camera. Procedures that were
// not run are nil.
type Profile struct {
	CameraIndex  int                 `json:"camera_index"`
	CalibratedAt *time.Time          `json:"calibrated_at"`
	Focus        *FocusResult        `json:"focus"`
	WhiteBalance *WhiteBalanceResult `json:"white_balance"`
	Exposure     map[string]any      `json:"exposure"`
}

// NewProfile returns an empty profile for index.
func NewProfile(index int) *Profile {
	return &Profile{CameraIndex: index, Exposure: map[string]any{}}
}

// FocusUsable reports whether the profile carries a lens position that may
// replace autofocus.
func (p *Profile) FocusUsable() bool {
	return p != nil && p.Focus != nil && p.Focus.Success && p.Focus.LensPosition != nil
}

// Err summarizes failed procedures as an ErrCalibration error, or nil when
// every procedure that ran succeeded.
func (p *Profile) Err() error {
	if p == nil {
		return nil
	}
	var failures []string
	if p.Focus != nil && !p.Focus.Success {
		failures = append(failures, "focus: "+orDefault(p.Focus.Error, "autofocus failed"))
	}
	if p.WhiteBalance != nil && !p.WhiteBalance.Success {
		failures = append(failures, "white balance: "+orDefault(p.WhiteBalance.Error, "no colour gains"))
	}
	if len(failures) == 0 {
		return nil
	}
	return services.Wrap(services.ErrCalibration, "calibration", "profile",
		fmt.Sprintf("camera %d", p.CameraIndex), errors.New(strings.Join(failures, "; ")))
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var out Profile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	if out.Exposure == nil {
		out.Exposure = map[string]any{}
	}
	return &out
}

// Apply returns cfg with manual focus at the calibrated lens position when
// focus calibration succeeded. Otherwise cfg is returned unchanged.
func Apply(cfg camera.Config, profile *Profile) camera.Config {
	if !profile.FocusUsable() {
		return cfg.Clone()
	}
	return cfg.WithLensPosition(*profile.Focus.LensPosition)
}

// Recommendation is the camera setting change suggested by a profile.
type Recommendation struct {
	AutofocusOnCapture bool                `json:"autofocus_on_capture"`
	LensPosition       *float64            `json:"lens_position,omitempty"`
	ColourGains        *backend.ColourGain `json:"colour_gains,omitempty"`
	Notes              []string            `json:"notes,omitempty"`
}

// Recommended describes the settings a profile supports.
func Recommended(profile *Profile) Recommendation {
	rec := Recommendation{AutofocusOnCapture: true}
	if profile.FocusUsable() {
		lp := *profile.Focus.LensPosition
		rec.AutofocusOnCapture = false
		rec.LensPosition = &lp
		if profile.Focus.DistanceMeters != nil {
			rec.Notes = append(rec.Notes, fmt.Sprintf("manual focus at %.2f dioptres (about %.0f cm)", lp, *profile.Focus.DistanceMeters*100))
		} else {
			rec.Notes = append(rec.Notes, fmt.Sprintf("manual focus at %.2f dioptres (infinity)", lp))
		}
	}
	if profile != nil && profile.WhiteBalance != nil && profile.WhiteBalance.Converged && profile.WhiteBalance.Gains != nil {
		gains := *profile.WhiteBalance.Gains
		rec.ColourGains = &gains
		rec.Notes = append(rec.Notes, fmt.Sprintf("white balance converged at red %.3f blue %.3f", gains.Red, gains.Blue))
	}
	return rec
}

// WriteProfile stores profile as indented JSON at path.
func WriteProfile(path string, profile *Profile) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadProfile loads a profile written by WriteProfile.
func ReadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if profile.Exposure == nil {
		profile.Exposure = map[string]any{}
	}
	return &profile, nil
}

// SpreadOf returns max-min over the last window values. It reports false when
// fewer than window values are available.
func SpreadOf(values []float64, window int) (float64, bool) {
	if window <= 0 || len(values) < window {
		return 0, false
	}
	tail := values[len(values)-window:]
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range tail {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo, true
}

// Converged reports whether both channels' spread over the last window
// samples is below threshold.
func Converged(red, blue []float64, window int, threshold float64) bool {
	rs, ok := SpreadOf(red, window)
	if !ok {
		return false
	}
	bs, ok := SpreadOf(blue, window)
	if !ok {
		return false
	}
	return rs < threshold && bs < threshold
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

package calibration_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"folio/internal/backend"
	"folio/internal/backend/picam"
	"folio/internal/calibration"
	"folio/internal/camera"
	"folio/internal/services"
)

type fakeHandle struct {
	started      bool
	configured   []picam.StreamConfig
	controls     []picam.Controls
	afConverged  bool
	afErr        error
	configureErr error
	metadata     func(call int) (picam.RawMetadata, error)
	mdCalls      int
	closed       bool
}

func (h *fakeHandle) Configure(_ context.Context, cfg picam.StreamConfig) error {
	if h.configureErr != nil {
		return h.configureErr
	}
	h.configured = append(h.configured, cfg)
	return nil
}
func (h *fakeHandle) Start(context.Context) error { h.started = true; return nil }
func (h *fakeHandle) Stop(context.Context) error  { h.started = false; return nil }
func (h *fakeHandle) Started() bool               { return h.started }
func (h *fakeHandle) SetControls(_ context.Context, c picam.Controls) error {
	h.controls = append(h.controls, c)
	return nil
}
func (h *fakeHandle) CaptureFile(context.Context, string, string) (picam.RawMetadata, error) {
	return nil, nil
}
func (h *fakeHandle) CaptureRaw(context.Context, string) error          { return nil }
func (h *fakeHandle) CaptureMetadata(context.Context) (picam.RawMetadata, error) {
	call := h.mdCalls
	h.mdCalls++
	if h.metadata == nil {
		return picam.RawMetadata{}, nil
	}
	return h.metadata(call)
}
func (h *fakeHandle) AutofocusCycle(context.Context) (bool, error) { return h.afConverged, h.afErr }
func (h *fakeHandle) Close() error                                 { h.closed = true; return nil }

type fakeSource struct {
	handle   *fakeHandle
	err      error
	released int
}

func (s *fakeSource) AcquireHandle(context.Context, int) (picam.Handle, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.handle, func() { s.released++ }, nil
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func TestCalibrateFocusSuccess(t *testing.T) {
	h := &fakeHandle{afConverged: true, metadata: func(int) (picam.RawMetadata, error) {
		return picam.RawMetadata{"LensPosition": 4.0}, nil
	}}
	src := &fakeSource{handle: h}
	engine := calibration.NewEngine(src, calibration.WithClock(steppingClock(750*time.Millisecond)))

	result, err := engine.CalibrateFocus(context.Background(), 0, camera.Size{Width: 2312, Height: 1736})
	if err != nil {
		t.Fatalf("CalibrateFocus: %v", err)
	}
	if !result.Success || result.LensPosition == nil || math.Abs(*result.LensPosition-4.0) > 1e-9 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.DistanceMeters == nil || math.Abs(*result.DistanceMeters-0.25) > 1e-9 {
		t.Fatalf("distance = %v, want 0.25", result.DistanceMeters)
	}
	if math.Abs(result.AFTimeSeconds-0.75) > 1e-9 {
		t.Fatalf("af time = %v", result.AFTimeSeconds)
	}
	if h.controls[0][picam.ControlAfMode] != picam.AfModeAuto {
		t.Fatalf("expected single-shot autofocus mode, got %v", h.controls[0])
	}
	if h.configured[0].Size.Width != 2312 {
		t.Fatalf("configured at %+v", h.configured[0])
	}
	if src.released != 1 {
		t.Fatalf("handle released %d times", src.released)
	}
}

func TestCalibrateFocusAtInfinity(t *testing.T) {
	h := &fakeHandle{afConverged: true, metadata: func(int) (picam.RawMetadata, error) {
		return picam.RawMetadata{"LensPosition": 0.0}, nil
	}}
	result, err := calibration.NewEngine(&fakeSource{handle: h}).CalibrateFocus(context.Background(), 0, camera.Size{})
	if err != nil {
		t.Fatalf("CalibrateFocus: %v", err)
	}
	if !result.Success || !result.AtInfinity || result.DistanceMeters != nil {
		t.Fatalf("expected infinite distance, got %+v", result)
	}
	if _, err := json.Marshal(result); err != nil {
		t.Fatalf("infinite focus must encode: %v", err)
	}
}

func TestCalibrateFocusFailureIsAResult(t *testing.T) {
	cases := map[string]*fakeHandle{
		"not converged": {afConverged: false},
		"cycle error":   {afErr: errors.New("af timeout")},
		"no lens position": {afConverged: true, metadata: func(int) (picam.RawMetadata, error) {
			return picam.RawMetadata{"ExposureTime": 1000.0}, nil
		}},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := calibration.NewEngine(&fakeSource{handle: h}).CalibrateFocus(context.Background(), 1, camera.Size{})
			if err != nil {
				t.Fatalf("expected result value, got error %v", err)
			}
			if result.Success || result.Error == "" || result.LensPosition != nil {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestHardwareFailuresAreErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("busy")}
	if _, err := calibration.NewEngine(src).CalibrateFocus(context.Background(), 0, camera.Size{}); !errors.Is(err, services.ErrHardwareUnavailable) {
		t.Fatalf("expected hardware unavailable, got %v", err)
	}
	h := &fakeHandle{configureErr: errors.New("bad format")}
	if _, err := calibration.NewEngine(&fakeSource{handle: h}).CalibrateWhiteBalance(context.Background(), 0, camera.Size{}, 5, nil); !errors.Is(err, services.ErrHardwareUnavailable) {
		t.Fatalf("expected hardware unavailable on configure, got %v", err)
	}
}

func TestCalibrateWhiteBalanceConverges(t *testing.T) {
	h := &fakeHandle{metadata: func(call int) (picam.RawMetadata, error) {
		// Gains drift early then settle.
		red := 1.9
		if call < 10 {
			red = 1.5 + float64(call)*0.04
		}
		return picam.RawMetadata{"ColourGains": []any{red, 1.6}, "ColourTemperature": 4200.0}, nil
	}}
	var progress []int
	engine := calibration.NewEngine(&fakeSource{handle: h})
	result, err := engine.CalibrateWhiteBalance(context.Background(), 0, camera.Size{}, 30, func(done, total int) {
		if total != 30 {
			t.Errorf("total = %d", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("CalibrateWhiteBalance: %v", err)
	}
	if !result.Success || !result.Converged {
		t.Fatalf("expected converged result, got %+v", result)
	}
	if result.Gains == nil || result.Gains.Red != 1.9 || result.Gains.Blue != 1.6 || result.ColourTemperature != 4200 {
		t.Fatalf("unexpected gains %+v", result)
	}
	if result.Variance == nil || result.Variance.Red != 0 || result.Samples != 30 {
		t.Fatalf("unexpected variance %+v samples=%d", result.Variance, result.Samples)
	}
	if len(progress) != 30 || progress[29] != 30 {
		t.Fatalf("progress calls = %v", progress)
	}
	awb := h.controls[0]
	if awb[picam.ControlAwbEnable] != true || awb[picam.ControlAwbMode] != 0 {
		t.Fatalf("unexpected awb controls %v", awb)
	}
}

func TestCalibrateWhiteBalanceOscillatingDoesNotConverge(t *testing.T) {
	h := &fakeHandle{metadata: func(call int) (picam.RawMetadata, error) {
		red := 1.8
		if call%2 == 0 {
			red = 1.9
		}
		return picam.RawMetadata{"ColourGains": []any{red, 1.6}}, nil
	}}
	result, err := calibration.NewEngine(&fakeSource{handle: h}).CalibrateWhiteBalance(context.Background(), 0, camera.Size{}, 20, nil)
	if err != nil {
		t.Fatalf("CalibrateWhiteBalance: %v", err)
	}
	if !result.Success || result.Converged {
		t.Fatalf("expected success without convergence, got %+v", result)
	}
	if result.Variance == nil || math.Abs(result.Variance.Red-0.1) > 1e-9 {
		t.Fatalf("variance = %+v", result.Variance)
	}
}

func TestCalibrateWhiteBalanceWithoutGainsFails(t *testing.T) {
	h := &fakeHandle{}
	result, err := calibration.NewEngine(&fakeSource{handle: h}).CalibrateWhiteBalance(context.Background(), 0, camera.Size{}, 5, nil)
	if err != nil {
		t.Fatalf("CalibrateWhiteBalance: %v", err)
	}
	if result.Success || result.Gains != nil || result.Error == "" {
		t.Fatalf("expected failure result, got %+v", result)
	}
}

func TestConvergedNeedsFullWindow(t *testing.T) {
	steady := []float64{1, 1, 1, 1, 1}
	if calibration.Converged(steady, steady, 10, 0.05) {
		t.Fatal("fewer samples than the window must not converge")
	}
	if !calibration.Converged(steady, steady, 5, 0.05) {
		t.Fatal("steady samples should converge")
	}
	wobble := []float64{1, 1, 1, 1, 1.05}
	if calibration.Converged(wobble, steady, 5, 0.05) {
		t.Fatal("spread equal to the threshold must not converge")
	}
}

func TestCalibrateBuildsProfile(t *testing.T) {
	h := &fakeHandle{afConverged: true, metadata: func(int) (picam.RawMetadata, error) {
		return picam.RawMetadata{"LensPosition": 3.92, "ColourGains": []any{1.9, 1.6}}, nil
	}}
	engine := calibration.NewEngine(&fakeSource{handle: h}, calibration.WithClock(steppingClock(time.Second)))
	profile, err := engine.Calibrate(context.Background(), 1, calibration.Options{Focus: true})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if profile.CameraIndex != 1 || profile.CalibratedAt == nil || profile.Focus == nil || profile.WhiteBalance != nil {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if profile.Err() != nil {
		t.Fatalf("unexpected profile error %v", profile.Err())
	}

	data, err := json.Marshal(profile)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{`"camera_index":1`, `"exposure":{}`, `"white_balance":null`, `"lens_position":3.92`} {
		if !strings.Contains(got, want) {
			t.Fatalf("profile json %s missing %s", got, want)
		}
	}

	if _, err := engine.Calibrate(context.Background(), 1, calibration.Options{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without procedures, got %v", err)
	}
}

func TestApplyUsesOnlySuccessfulFocus(t *testing.T) {
	lp := 3.5
	base := camera.Default(0)

	applied := calibration.Apply(base, &calibration.Profile{Focus: &calibration.FocusResult{Success: true, LensPosition: &lp}})
	if applied.LensPosition == nil || *applied.LensPosition != 3.5 || applied.AutofocusOnCapture {
		t.Fatalf("expected manual focus, got %+v", applied)
	}
	if base.LensPosition != nil {
		t.Fatal("Apply mutated its input")
	}

	failed := calibration.Apply(base, &calibration.Profile{Focus: &calibration.FocusResult{Success: false, LensPosition: &lp}})
	if failed.LensPosition != nil || !failed.AutofocusOnCapture {
		t.Fatalf("failed focus must not disable autofocus, got %+v", failed)
	}
	if none := calibration.Apply(base, nil); none.LensPosition != nil {
		t.Fatalf("nil profile changed config: %+v", none)
	}
}

func TestRecommendedAndProfileErr(t *testing.T) {
	lp, dist := 4.0, 0.25
	profile := &calibration.Profile{
		CameraIndex:  0,
		Focus:        &calibration.FocusResult{Success: true, LensPosition: &lp, DistanceMeters: &dist},
		WhiteBalance: &calibration.WhiteBalanceResult{Success: true, Converged: true, Gains: &backend.ColourGain{Red: 2, Blue: 1.5}},
	}
	rec := calibration.Recommended(profile)
	if rec.AutofocusOnCapture || rec.LensPosition == nil || rec.ColourGains == nil || len(rec.Notes) != 2 {
		t.Fatalf("unexpected recommendation %+v", rec)
	}

	profile.WhiteBalance = &calibration.WhiteBalanceResult{Success: false, Error: "colour gains not reported"}
	if err := profile.Err(); !errors.Is(err, services.ErrCalibration) {
		t.Fatalf("expected calibration error, got %v", err)
	}
}

func TestProfileFileRoundTrip(t *testing.T) {
	lp := 2.0
	path := filepath.Join(t.TempDir(), "calibration_camera0.json")
	profile := calibration.NewProfile(0)
	profile.Focus = &calibration.FocusResult{Success: true, LensPosition: &lp}
	if err := calibration.WriteProfile(path, profile); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	loaded, err := calibration.ReadProfile(path)
	if err != nil {
		t.Fatalf("ReadProfile: %v", err)
	}
	if !loaded.FocusUsable() || *loaded.Focus.LensPosition != 2.0 || loaded.Exposure == nil {
		t.Fatalf("unexpected profile %+v", loaded)
	}
}

type fakeOpener struct {
	handle *fakeHandle
}

func (o fakeOpener) Open(context.Context, int) (picam.Handle, error) { return o.handle, nil }
func (o fakeOpener) List(context.Context) ([]backend.Info, error)    { return nil, nil }

func TestOpenerSourceClosesOnRelease(t *testing.T) {
	h := &fakeHandle{afConverged: true, metadata: func(int) (picam.RawMetadata, error) {
		return picam.RawMetadata{"LensPosition": 1.0}, nil
	}}
	engine := calibration.NewEngine(calibration.OpenerSource{Opener: fakeOpener{handle: h}})
	if _, err := engine.CalibrateFocus(context.Background(), 0, camera.Size{}); err != nil {
		t.Fatalf("CalibrateFocus: %v", err)
	}
	if !h.closed || h.started {
		t.Fatalf("dedicated handle not released: closed=%v started=%v", h.closed, h.started)
	}
}

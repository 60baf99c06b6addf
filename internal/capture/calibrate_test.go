package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"folio/internal/backend/picam"
	"folio/internal/calibration"
	"folio/internal/capture"
	"folio/internal/manifest"
	"folio/internal/services"
	"folio/internal/testsupport"
)

type stubHandle struct {
	lensPosition float64
	started      bool
}

func (h *stubHandle) Configure(context.Context, picam.StreamConfig) error { return nil }
func (h *stubHandle) Started() bool                                       { return h.started }
func (h *stubHandle) SetControls(context.Context, picam.Controls) error   { return nil }
func (h *stubHandle) CaptureFile(context.Context, string, string) (picam.RawMetadata, error) {
	return nil, nil
}
func (h *stubHandle) CaptureRaw(context.Context, string) error            { return nil }
func (h *stubHandle) AutofocusCycle(context.Context) (bool, error)        { return true, nil }
func (h *stubHandle) Close() error                                        { return nil }

func (h *stubHandle) Start(context.Context) error {
	h.started = true
	return nil
}

func (h *stubHandle) Stop(context.Context) error {
	h.started = false
	return nil
}

func (h *stubHandle) CaptureMetadata(context.Context) (picam.RawMetadata, error) {
	return picam.RawMetadata{
		"LensPosition":      h.lensPosition,
		"ColourGains":       []any{1.8, 1.4},
		"ColourTemperature": 5200,
	}, nil
}

type stubSource struct {
	mu       sync.Mutex
	handle   *stubHandle
	acquired int
}

func (s *stubSource) AcquireHandle(context.Context, int) (picam.Handle, func(), error) {
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return s.handle, func() {}, nil
}

func TestCalibratePersistsProfileAgainstHardwareID(t *testing.T) {
	be := testsupport.NewFakeBackend(testsupport.DualRig()...)
	cfg := testsupport.NewConfig(t)
	reg := newRegistry(t, cfg, be)
	source := &stubSource{handle: &stubHandle{lensPosition: 4.0}}
	engine := calibration.NewEngine(source)
	o, err := capture.NewOrchestrator(cfg, be, manifest.NewLogger(nil),
		capture.WithRegistry(reg),
		capture.WithCalibrationEngine(engine),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var progress int
	id, profile, err := o.Calibrate(ctx, 1, capture.CalibrateOptions{
		Frames:   12,
		Progress: func(done, total int) { progress = done },
	})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if id != "imx519_80000" {
		t.Fatalf("hardware id = %q", id)
	}
	if !profile.FocusUsable() || profile.Focus.DistanceMeters == nil || *profile.Focus.DistanceMeters != 0.25 {
		t.Fatalf("unexpected focus result %+v", profile.Focus)
	}
	if profile.WhiteBalance == nil || !profile.WhiteBalance.Success || !profile.WhiteBalance.Converged {
		t.Fatalf("unexpected white balance result %+v", profile.WhiteBalance)
	}
	if progress != 12 {
		t.Fatalf("progress reported %d of 12 frames", progress)
	}

	entry, found, err := reg.GetByHardwareID(ctx, id)
	if err != nil || !found {
		t.Fatalf("entry not stored: %v", err)
	}
	if entry.Calibration == nil || *entry.Calibration.Focus.LensPosition != 4.0 || entry.CalibratedAt == nil {
		t.Fatalf("calibration not persisted: %+v", entry)
	}

	// The stored profile is applied to the next capture on that camera.
	if _, err := o.CaptureSingle(ctx, capture.SingleRequest{Project: "ledger", Camera: 1}); err != nil {
		t.Fatal(err)
	}
	calls := be.Calls()
	if lp := calls[len(calls)-1].Config.LensPosition; lp == nil || *lp != 4.0 {
		t.Fatalf("calibrated lens position not used: %v", lp)
	}
}

func TestCalibrateFocusOnly(t *testing.T) {
	be := testsupport.NewFakeBackend(testsupport.DualRig()...)
	cfg := testsupport.NewConfig(t)
	reg := newRegistry(t, cfg, be)
	source := &stubSource{handle: &stubHandle{lensPosition: 0}}
	o, err := capture.NewOrchestrator(cfg, be, manifest.NewLogger(nil),
		capture.WithRegistry(reg),
		capture.WithCalibrationEngine(calibration.NewEngine(source)),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, profile, err := o.Calibrate(context.Background(), 0, capture.CalibrateOptions{Focus: true})
	if err != nil {
		t.Fatal(err)
	}
	if profile.WhiteBalance != nil {
		t.Fatal("white balance should not run")
	}
	if !profile.Focus.AtInfinity || profile.Focus.DistanceMeters != nil {
		t.Fatalf("lens position 0 should focus at infinity: %+v", profile.Focus)
	}
}

func TestCalibrateRequiresConnectedCamera(t *testing.T) {
	be := testsupport.NewFakeBackend(testsupport.DualRig()...)
	be.Disconnect(0)
	cfg := testsupport.NewConfig(t)
	source := &stubSource{handle: &stubHandle{lensPosition: 4}}
	o, err := capture.NewOrchestrator(cfg, be, manifest.NewLogger(nil),
		capture.WithRegistry(newRegistry(t, cfg, be)),
		capture.WithCalibrationEngine(calibration.NewEngine(source)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.Calibrate(context.Background(), 0, capture.CalibrateOptions{}); !errors.Is(err, services.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if source.acquired != 0 {
		t.Fatal("no handle should be acquired for a missing camera")
	}
}

func TestCalibrateWithoutEngine(t *testing.T) {
	be := testsupport.NewFakeBackend(testsupport.DualRig()...)
	o, _ := newOrchestrator(t, be)
	if _, _, err := o.Calibrate(context.Background(), 0, capture.CalibrateOptions{}); !errors.Is(err, services.ErrCalibration) {
		t.Fatalf("expected calibration error, got %v", err)
	}
}

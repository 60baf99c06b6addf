package rpicam_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"folio/internal/backend"
	"folio/internal/backend/rpicam"
	"folio/internal/camera"
	"folio/internal/services"
)

type stubExecutor struct {
	lines []string
	err   error
	calls int
	args  [][]string
	run   func(ctx context.Context, args []string) error
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	s.calls++
	s.args = append(s.args, append([]string(nil), args...))
	for _, line := range s.lines {
		onLine(line)
	}
	if s.run != nil {
		return s.run(ctx, args)
	}
	return s.err
}

const listOutput = `Available cameras
-----------------
0 : imx519 [4656x3496 10-bit RGGB] (/base/axi/pcie@1000120000/rp1/i2c@88000/imx519@1a)
    Modes: 'SRGGB10_CSI2P' : 1280x720 [80.01 fps - (1048, 1042)/2560x1440 crop]
1 : imx519 [4656x3496 10-bit RGGB] (/base/axi/pcie@1000120000/rp1/i2c@80000/imx519@1a)`

func outputArg(args []string) string {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func writeOutput(ctx context.Context, args []string) error {
	return os.WriteFile(outputArg(args), []byte("jpeg"), 0o644)
}

func TestBuildArgsDefaultConfig(t *testing.T) {
	got := rpicam.BuildArgs("/p/images/main/a.jpg", camera.Default(0))
	want := []string{
		"-o", "/p/images/main/a.jpg",
		"--width", "4624", "--height", "3472",
		"--quality", "93", "--awb", "indoor",
		"--buffer-count", "2", "--camera", "0",
		"-t", "50", "-n", "--autofocus-on-capture",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildArgs mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestBuildArgsAllFlags(t *testing.T) {
	cfg := camera.Default(1).WithLensPosition(2.5).WithFlip(true, true).WithEncoding(camera.EncodingPNG)
	cfg.TimeoutMillis = 0
	cfg.NoPreview = false
	cfg.Thumbnail = true
	cfg.ZSL = true
	cfg.Raw = true

	got := strings.Join(rpicam.BuildArgs("out.png", cfg), " ")
	want := "-o out.png --width 4624 --height 3472 --quality 93 --awb indoor --buffer-count 2 --camera 1 " +
		"--immediate --vflip --hflip --thumb 320:240:70 --zsl --lens-position 2.5 --encoding png --raw"
	if got != want {
		t.Fatalf("BuildArgs mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestBuildArgsPassesLensPositionAlongsideAutofocus(t *testing.T) {
	pos := 1.0
	cfg := camera.Default(0)
	cfg.LensPosition = &pos
	args := strings.Join(rpicam.BuildArgs("x.jpg", cfg), " ")
	if !strings.Contains(args, "--autofocus-on-capture") || !strings.Contains(args, "--lens-position 1") {
		t.Fatalf("expected both focus flags, got %s", args)
	}
}

func TestIsConnectedMatchesEnumeration(t *testing.T) {
	exec := &stubExecutor{lines: strings.Split(listOutput, "\n")}
	b, err := rpicam.New("rpicam-still", rpicam.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for index, want := range map[int]bool{0: true, 1: true, 2: false} {
		if got := b.IsConnected(context.Background(), index); got != want {
			t.Fatalf("IsConnected(%d) = %v, want %v", index, got, want)
		}
	}
	if exec.args[0][0] != "--list-cameras" {
		t.Fatalf("unexpected probe args %v", exec.args[0])
	}
}

func TestIsConnectedDoesNotMatchLongerIndex(t *testing.T) {
	exec := &stubExecutor{lines: []string{"10 : imx519 [4656x3496] (/base/i2c@1/imx519@1a)"}}
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(exec))
	if b.IsConnected(context.Background(), 0) {
		t.Fatal("index 0 must not match an entry for index 10")
	}
}

func TestIsConnectedFalseOnProbeFailure(t *testing.T) {
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(&stubExecutor{err: errors.New("exit status 255")}))
	if b.IsConnected(context.Background(), 0) {
		t.Fatal("expected false when the probe fails")
	}
}

func TestIsConnectedFalseOnProbeTimeout(t *testing.T) {
	exec := &stubExecutor{run: func(ctx context.Context, _ []string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(exec), rpicam.WithTimeouts(20*time.Millisecond, 0))
	start := time.Now()
	if b.IsConnected(context.Background(), 0) {
		t.Fatal("expected false on timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe not bounded by timeout: %s", elapsed)
	}
}

func TestListCamerasParsesOutput(t *testing.T) {
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(&stubExecutor{lines: strings.Split(listOutput, "\n")}))
	cams, err := b.ListCameras(context.Background())
	if err != nil {
		t.Fatalf("ListCameras: %v", err)
	}
	if len(cams) != 2 {
		t.Fatalf("expected 2 cameras, got %d: %+v", len(cams), cams)
	}
	if cams[0].Model != "imx519" || cams[0].ID != "/base/axi/pcie@1000120000/rp1/i2c@88000/imx519@1a" {
		t.Fatalf("unexpected first camera %+v", cams[0])
	}
	if cams[1].Index != 1 || !strings.Contains(cams[1].ID, "i2c@80000") {
		t.Fatalf("unexpected second camera %+v", cams[1])
	}
}

func TestCaptureSuccessReturnsPrimaryAndRaw(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "images", "main", "shot.jpg")
	exec := &stubExecutor{run: func(ctx context.Context, args []string) error {
		if err := writeOutput(ctx, args); err != nil {
			return err
		}
		return os.WriteFile(backend.RawPath(outputArg(args)), []byte("dng"), 0o644)
	}}
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(exec))

	cfg := camera.Default(0)
	cfg.Raw = true
	res, err := b.Capture(context.Background(), out, cfg)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(res.Paths) != 2 || res.Primary() != out || !strings.HasSuffix(res.Paths[1], "shot.dng") {
		t.Fatalf("unexpected paths %v", res.Paths)
	}
	if res.Metadata != nil {
		t.Fatalf("subprocess backend must not report metadata, got %+v", res.Metadata)
	}
}

func TestCaptureNonZeroExitIsProcessError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "shot.jpg")
	exec := &stubExecutor{
		lines: []string{"ERROR: *** no cameras available ***"},
		run: func(ctx context.Context, args []string) error {
			_ = writeOutput(ctx, args)
			return errors.New("exit status 1")
		},
	}
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(exec))

	_, err := b.Capture(context.Background(), out, camera.Default(0))
	if !errors.Is(err, services.ErrCaptureProcess) {
		t.Fatalf("expected capture process error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no cameras available") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("partial output should be removed, stat err=%v", statErr)
	}
}

func TestCaptureTimeoutRemovesPartialOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "shot.jpg")
	exec := &stubExecutor{run: func(ctx context.Context, args []string) error {
		_ = writeOutput(ctx, args)
		<-ctx.Done()
		return ctx.Err()
	}}
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(exec), rpicam.WithTimeouts(0, 30*time.Millisecond))

	_, err := b.Capture(context.Background(), out, camera.Default(0))
	if !errors.Is(err, services.ErrCaptureTimeout) {
		t.Fatalf("expected capture timeout, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("partial output should be removed, stat err=%v", statErr)
	}
}

func TestCaptureMissingOutputIsProcessError(t *testing.T) {
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(&stubExecutor{}))
	_, err := b.Capture(context.Background(), filepath.Join(t.TempDir(), "none.jpg"), camera.Default(0))
	if !errors.Is(err, services.ErrCaptureProcess) {
		t.Fatalf("expected process error for missing output, got %v", err)
	}
}

func TestCaptureRejectsInvalidConfig(t *testing.T) {
	exec := &stubExecutor{}
	b, _ := rpicam.New("rpicam-still", rpicam.WithExecutor(exec))
	cfg := camera.Default(0)
	cfg.Quality = 0
	if _, err := b.Capture(context.Background(), filepath.Join(t.TempDir(), "x.jpg"), cfg); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if exec.calls != 0 {
		t.Fatal("executor must not run for an invalid config")
	}
}

func TestCapabilities(t *testing.T) {
	b, _ := rpicam.New("rpicam-still")
	if b.SupportsStreaming() || b.SupportsLiveAdjustment() {
		t.Fatal("subprocess backend supports neither streaming nor live adjustment")
	}
	if err := b.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := rpicam.New("  "); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

package main

import (
	"strings"
	"testing"
	"time"

	"folio/internal/capture"
	"folio/internal/ipc"
	"folio/internal/preflight"
)

func TestRenderStatusLineAlignsLabels(t *testing.T) {
	got := renderStatusLine("Backend", statusOK, "rpicam-subprocess (ready)", false)
	want := "  Backend:             [OK] rpicam-subprocess (ready)"
	if got != want {
		t.Fatalf("renderStatusLine = %q, want %q", got, want)
	}
	if got := renderStatusLine("Hotplug", statusWarn, "", false); got != "  Hotplug:             [WARN]" {
		t.Fatalf("empty message rendered as %q", got)
	}
	colored := renderStatusLine("Registry", statusError, "unreadable", true)
	if !strings.HasPrefix(colored, "\x1b[31m") || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestRenderStatusDaemon(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &ipc.StatusResponse{
		Running:       true,
		PID:           4242,
		Hotplug:       true,
		LastDetection: now.Add(-2 * time.Minute),
		Cameras:       map[int]string{1: "imx519_80000", 0: "imx519_88000"},
		Capture: capture.Status{
			Backend:      "picamera2",
			BackendReady: true,
			OpenHandles:  []int{0, 1},
			Busy:         []int{1},
			Registered:   3,
		},
	}
	checks := []preflight.Result{
		{Name: "Projects root", Passed: true, Detail: "/srv/folio (read/write)"},
		{Name: "folio-camhelper", Passed: false, Detail: "not found in PATH"},
	}

	output := strings.Join(renderStatus(status, checks, true, false, now), "\n")
	for _, want := range []string{
		"[OK] running (pid 4242)",
		"[OK] picamera2 (ready)",
		"Open handles:        [INFO] 0, 1",
		"Capturing:           [WARN] 1",
		"Registered:          [INFO] 3",
		"0=imx519_88000, 1=imx519_80000 (2 minutes ago)",
		"folio-camhelper:     [ERROR] not found in PATH",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestRenderStatusInProcess(t *testing.T) {
	status := &ipc.StatusResponse{
		DetectionError: "camera connectivity error: list cameras",
		Capture:        capture.Status{Backend: "rpicam-subprocess"},
	}
	output := strings.Join(renderStatus(status, nil, false, false, time.Now()), "\n")
	for _, want := range []string{
		"not running; commands run in-process",
		"[INFO] rpicam-subprocess (idle)",
		"Detection:           [ERROR] camera connectivity error",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestDisplayLabel(t *testing.T) {
	cases := map[string]string{
		"partial":         "Partial",
		"capture_timeout": "Capture Timeout",
		"":                "-",
		" left ":          "Left",
	}
	for in, want := range cases {
		if got := displayLabel(in); got != want {
			t.Fatalf("displayLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCaptureOutcome(t *testing.T) {
	if err := captureOutcome(&ipc.CaptureResponse{Success: true}); err != nil {
		t.Fatalf("success: %v", err)
	}
	if err := captureOutcome(&ipc.CaptureResponse{Status: "partial", Error: "camera 1 failed"}); err != nil {
		t.Fatalf("partial: %v", err)
	}
	err := captureOutcome(&ipc.CaptureResponse{Status: "failed", Error: "camera connectivity error: camera 0"})
	if err == nil || !strings.Contains(err.Error(), "connectivity") {
		t.Fatalf("failed: %v", err)
	}
	if err := captureOutcome(&ipc.CaptureResponse{}); err == nil {
		t.Fatal("expected an error for an empty failed response")
	}
}

package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"folio/internal/ipc"
	"folio/internal/manifest"
)

func TestLocalProjectCaptureAndVerify(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "project", "init", "ledger-1890", "--created-by", "archivist")
	if err != nil {
		t.Fatalf("project init: %v", err)
	}
	requireContains(t, out, "Initialized project ledger-1890")

	out, _, err = runCLI(t, env, "capture", "ledger-1890", "--camera", "dual", "--sequence", "0001")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	requireContains(t, out, "Success")
	requireContains(t, out, filepath.Join(env.cfg.Paths.ProjectsRoot, "ledger-1890"))
	if calls := env.backend.Calls(); len(calls) != 2 {
		t.Fatalf("expected 2 backend captures, got %d", len(calls))
	}
	if env.backend.Cleanups() == 0 {
		t.Fatal("expected the in-process runtime to release the backend")
	}

	out, _, err = runCLI(t, env, "project", "list")
	if err != nil {
		t.Fatalf("project list: %v", err)
	}
	requireContains(t, out, "ledger-1890")

	out, _, err = runCLI(t, env, "manifest", "show", "ledger-1890")
	if err != nil {
		t.Fatalf("manifest show: %v", err)
	}
	requireContains(t, out, "Captures")
	requireContains(t, out, "0001")

	out, _, err = runCLI(t, env, "manifest", "verify", "ledger-1890")
	if err != nil {
		t.Fatalf("manifest verify: %v", err)
	}
	requireContains(t, out, "1 records, 2 files, 2 verified")
}

func TestManifestVerifyReportsMissingFile(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "project", "init", "ledger"); err != nil {
		t.Fatalf("project init: %v", err)
	}
	out, _, err := runCLI(t, env, "--json", "capture", "ledger", "--camera", "0")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	var resp ipc.CaptureResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode capture json: %v\n%s", err, out)
	}
	if !resp.Success || len(resp.Paths) != 1 {
		t.Fatalf("unexpected capture response %+v", resp)
	}
	if err := os.Remove(resp.Paths[0]); err != nil {
		t.Fatalf("remove capture: %v", err)
	}

	out, _, err = runCLI(t, env, "manifest", "verify", "ledger")
	if err == nil || !strings.Contains(err.Error(), "1 manifest problem") {
		t.Fatalf("expected verify failure, got %v", err)
	}
	requireContains(t, out, manifest.ReasonMissing)
}

func TestCaptureFailureExitsNonZero(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "project", "init", "ledger"); err != nil {
		t.Fatalf("project init: %v", err)
	}
	env.backend.Disconnect(0)

	out, _, err := runCLI(t, env, "capture", "ledger", "--camera", "0")
	if err == nil {
		t.Fatalf("expected capture error, output:\n%s", out)
	}
	requireContains(t, out, "Failed")
}

func TestPartialDualCaptureSucceeds(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "project", "init", "ledger"); err != nil {
		t.Fatalf("project init: %v", err)
	}
	env.backend.Fail(1, errors.New("sensor timeout"))

	out, _, err := runCLI(t, env, "capture", "ledger")
	if err != nil {
		t.Fatalf("partial capture should not fail the command: %v", err)
	}
	requireContains(t, out, "Partial")
}

func TestCaptureRejectsFilenameForDual(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env, "project", "init", "ledger"); err != nil {
		t.Fatalf("project init: %v", err)
	}
	_, _, err := runCLI(t, env, "capture", "ledger", "--camera", "dual", "--filename", "page.jpg")
	if err == nil || !strings.Contains(err.Error(), "custom filename") {
		t.Fatalf("expected filename validation error, got %v", err)
	}
	if calls := env.backend.Calls(); len(calls) != 0 {
		t.Fatalf("expected no captures, got %d", len(calls))
	}
}

func TestCamerasDetectListAndLabel(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "cameras", "detect")
	if err != nil {
		t.Fatalf("cameras detect: %v", err)
	}
	requireContains(t, out, "imx519_88000")
	requireContains(t, out, "imx519_80000")

	out, _, err = runCLI(t, env, "cameras", "label", "imx519_80000", "--label", "right page", "--machine-id", "scanner-2")
	if err != nil {
		t.Fatalf("cameras label: %v", err)
	}
	requireContains(t, out, `label="right page"`)

	out, _, err = runCLI(t, env, "cameras", "list")
	if err != nil {
		t.Fatalf("cameras list: %v", err)
	}
	requireContains(t, out, "right page")
	requireContains(t, out, "scanner-2")

	if _, _, err := runCLI(t, env, "cameras", "label", "imx519_80000"); err == nil {
		t.Fatal("expected an error when no field is given")
	}
	if _, _, err := runCLI(t, env, "cameras", "label", "imx000_1", "--label", "x"); err == nil {
		t.Fatal("expected an error for an unregistered camera")
	}
}

func TestCalibrateFocusLocal(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "calibrate", "0", "--focus")
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	requireContains(t, out, "Camera imx519_88000 calibrated")
	requireContains(t, out, "lens position 4.00 (0.25 m)")
	requireContains(t, out, "fixed lens position")

	if _, _, err := runCLI(t, env, "calibrate", "left"); err == nil {
		t.Fatal("expected an error for a non-numeric index")
	}
}

func TestCommandsUseRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")

	if _, _, err := runCLI(t, env, "project", "init", "ledger"); err != nil {
		t.Fatalf("project init: %v", err)
	}
	out, _, err = runCLI(t, env, "capture", "ledger")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	requireContains(t, out, "Success")
	if calls := env.backend.Calls(); len(calls) != 2 {
		t.Fatalf("expected 2 backend captures, got %d", len(calls))
	}
	// The daemon owns the backend, so no command released it.
	if env.backend.Cleanups() != 0 {
		t.Fatalf("expected the daemon to keep its handles, got %d cleanups", env.backend.Cleanups())
	}

	out, _, err = runCLI(t, env, "daemon", "status")
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Daemon running (pid")
}

func TestLocalFlagBypassesDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	out, _, err := runCLI(t, env, "--local", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running; commands run in-process")
}

func TestDaemonStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "daemon", "status")
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Daemon is not running")

	out, _, err = runCLI(t, env, "daemon", "stop")
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Backend: rpicam-subprocess")

	broken := filepath.Join(env.baseDir, "broken.toml")
	if err := os.WriteFile(broken, []byte("[camera]\nbackend = \"usb\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCommand()
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"--config", broken, "config", "validate"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "camera.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

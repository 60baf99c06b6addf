package daemon_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"folio/internal/backend"
	"folio/internal/capture"
	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/testsupport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Daemon.Hotplug = false
	return cfg
}

func newDaemon(t *testing.T, cfg *config.Config, factory capture.BackendFactory) *daemon.Daemon {
	t.Helper()
	rt, err := capture.NewRuntime(cfg, nil, capture.WithBackendFactory(factory))
	if err != nil {
		t.Fatalf("capture.NewRuntime: %v", err)
	}
	d, err := daemon.New(cfg, rt, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func fakeFactory(be *testsupport.FakeBackend) capture.BackendFactory {
	return func(*config.Config, *slog.Logger) (backend.Backend, error) {
		return be, nil
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	be := testsupport.NewFakeBackend(testsupport.DualRig()...)
	d := newDaemon(t, cfg, fakeFactory(be))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.LockPath() || status.SocketPath != cfg.SocketPath() {
		t.Fatalf("unexpected paths: %+v", status)
	}
	if len(status.Cameras) != 2 || status.Cameras[0] != "imx519_88000" || status.Cameras[1] != "imx519_80000" {
		t.Fatalf("expected both cameras detected on start, got %v", status.Cameras)
	}
	if status.LastDetection.IsZero() || status.DetectionError != "" {
		t.Fatalf("unexpected detection state: %+v", status)
	}
	if status.Capture.Registered != 2 || !status.Capture.BackendReady {
		t.Fatalf("expected registered cameras and a ready backend, got %+v", status.Capture)
	}
	if len(status.Dependencies) != 2 {
		t.Fatalf("expected dependency report, got %+v", status.Dependencies)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if be.Cleanups() != 1 {
		t.Fatalf("expected camera handles released once, got %d", be.Cleanups())
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected restart of a stopped daemon to fail")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testConfig(t)
	first := newDaemon(t, cfg, fakeFactory(testsupport.NewFakeBackend(testsupport.DualRig()...)))
	second := newDaemon(t, cfg, fakeFactory(testsupport.NewFakeBackend(testsupport.DualRig()...)))

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("expected second daemon to start once the lock is released: %v", err)
	}
}

func TestDaemonDetectionFailureIsNonFatal(t *testing.T) {
	cfg := testConfig(t)
	factory := func(*config.Config, *slog.Logger) (backend.Backend, error) {
		return nil, errors.New("no camera stack")
	}
	d := newDaemon(t, cfg, factory)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start should tolerate detection failure: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon running")
	}
	if !strings.Contains(status.DetectionError, "no camera stack") {
		t.Fatalf("expected detection error in status, got %q", status.DetectionError)
	}
	if len(status.Cameras) != 0 {
		t.Fatalf("expected no cameras, got %v", status.Cameras)
	}
}

func TestDaemonDetectRefreshesMapping(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.DetectOnStart = false
	be := testsupport.NewFakeBackend(testsupport.DualRig()...)
	d := newDaemon(t, cfg, fakeFactory(be))

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := d.Status(ctx).Cameras; len(got) != 0 {
		t.Fatalf("expected no detection before request, got %v", got)
	}

	be.Disconnect(1)
	mapping, err := d.Detect(ctx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(mapping) != 1 || mapping[0] != "imx519_88000" {
		t.Fatalf("unexpected mapping: %v", mapping)
	}
	entries, err := d.Runtime().Registry().ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one registered camera, got %d", len(entries))
	}
}

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"folio/internal/backend"
	"folio/internal/backend/picam"
	"folio/internal/capture"
	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/ipc"
	"folio/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	backend    *testsupport.FakeBackend
	source     *stubSource
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Daemon.Hotplug = false
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "folio", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		backend:    testsupport.NewFakeBackend(testsupport.DualRig()...),
		source:     &stubSource{handle: &stubHandle{lensPosition: 4.0}},
		configPath: configPath,
		baseDir:    base,
	}
}

func (e *cliTestEnv) runtimeOptions() []capture.RuntimeOption {
	factory := func(*config.Config, *slog.Logger) (backend.Backend, error) { return e.backend, nil }
	return []capture.RuntimeOption{
		capture.WithBackendFactory(factory),
		capture.WithCalibrationSource(e.source),
	}
}

// startDaemon serves the env's runtime on the configured socket until the
// test ends.
func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	rt, err := capture.NewRuntime(e.cfg, nil, e.runtimeOptions()...)
	if err != nil {
		t.Fatalf("capture.NewRuntime: %v", err)
	}
	d, err := daemon.New(e.cfg, rt, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	svc, err := ipc.NewService(rt, nil, ipc.WithDaemon(d))
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewService: %v", err)
	}
	srv, err := ipc.NewServer(ctx, e.cfg.SocketPath(), svc, nil)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	time.Sleep(50 * time.Millisecond)
	return d
}

// runCLI executes the root command against the env's config. Commands run
// in-process unless a daemon is serving the configured socket.
func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(env.runtimeOptions()...)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}

type stubHandle struct {
	mu           sync.Mutex
	lensPosition float64
	started      bool
}

func (h *stubHandle) Configure(context.Context, picam.StreamConfig) error { return nil }
func (h *stubHandle) SetControls(context.Context, picam.Controls) error   { return nil }
func (h *stubHandle) CaptureFile(context.Context, string, string) (picam.RawMetadata, error) {
	return nil, nil
}
func (h *stubHandle) CaptureRaw(context.Context, string) error            { return nil }
func (h *stubHandle) AutofocusCycle(context.Context) (bool, error)        { return true, nil }
func (h *stubHandle) Close() error                                        { return nil }

func (h *stubHandle) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *stubHandle) Start(context.Context) error {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	return nil
}

func (h *stubHandle) Stop(context.Context) error {
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()
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
	handle *stubHandle
}

func (s *stubSource) AcquireHandle(context.Context, int) (picam.Handle, func(), error) {
	return s.handle, func() {}, nil
}

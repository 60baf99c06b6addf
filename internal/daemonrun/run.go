package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"folio/internal/capture"
	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/ipc"
	"folio/internal/logging"
	"folio/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// RuntimeOptions are passed to the capture runtime (tests swap the backend).
	RuntimeOptions []capture.RuntimeOption
	// Ready is closed once the IPC socket is accepting connections.
	Ready chan<- struct{}
}

// PIDPath returns the daemon pid file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "foliod.pid")
}

// Run starts the folio daemon and blocks until ctx is canceled or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg, logging.WithConsoleLevel(opts.LogLevel))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(signalCtx, logger, cfg)
	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := capture.NewRuntime(cfg, logger, opts.RuntimeOptions...)
	if err != nil {
		return fmt.Errorf("create capture runtime: %w", err)
	}
	d, err := daemon.New(cfg, rt, logger)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// The lock must be held before the socket is replaced so a second
	// instance cannot steal a running daemon's socket.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	svc, err := ipc.NewService(rt, logger, ipc.WithDaemon(d))
	if err != nil {
		return err
	}
	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), svc, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()
	if opts.Ready != nil {
		close(opts.Ready)
	}

	logger.Info("folio daemon listening",
		logging.String(logging.FieldEventType, "daemon_listening"),
		logging.String("socket", cfg.SocketPath()),
		logging.Int("pid", os.Getpid()),
	)

	<-signalCtx.Done()
	logger.Info("folio daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("backend", capture.BackendName(cfg.Camera.Backend)),
		logging.String("projects_root", cfg.Paths.ProjectsRoot),
		logging.String("registry", cfg.Paths.RegistryPath),
	}
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs = append(attrs,
			logging.Bool(status.Command+"_available", status.Available),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

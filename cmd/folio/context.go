package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"folio/internal/capture"
	"folio/internal/config"
	"folio/internal/ipc"
	"folio/internal/logging"
)

// folioAPI is the operation set shared by the daemon client and the
// in-process service.
type folioAPI interface {
	Capture(ctx context.Context, req ipc.CaptureRequest) (*ipc.CaptureResponse, error)
	Calibrate(ctx context.Context, req ipc.CalibrateRequest) (*ipc.CalibrateResponse, error)
	Cameras(ctx context.Context, req ipc.CamerasRequest) (*ipc.CamerasResponse, error)
	SetLabel(ctx context.Context, req ipc.SetLabelRequest) (*ipc.SetLabelResponse, error)
	InitProject(ctx context.Context, req ipc.InitProjectRequest) (*ipc.InitProjectResponse, error)
	Projects(ctx context.Context, req ipc.ProjectsRequest) (*ipc.ProjectsResponse, error)
	Status(ctx context.Context, req ipc.StatusRequest) (*ipc.StatusResponse, error)
}

var (
	_ folioAPI = (*ipc.Client)(nil)
	_ folioAPI = (*ipc.Service)(nil)
)

type commandContext struct {
	socketFlag *string
	configFlag *string
	localFlag  *bool
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// runtimeOptions are applied to in-process runtimes (tests swap the backend).
	runtimeOptions []capture.RuntimeOption
}

func newCommandContext(socketFlag, configFlag *string, localFlag, jsonFlag *bool) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
		localFlag:  localFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil && strings.TrimSpace(*c.socketFlag) != "" {
		return strings.TrimSpace(*c.socketFlag)
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return ""
	}
	return cfg.SocketPath()
}

// withAPI runs fn against the daemon when its socket answers and otherwise
// against an in-process runtime that is closed when fn returns. The boolean
// reports whether the daemon served the call.
func (c *commandContext) withAPI(cmd *cobra.Command, fn func(api folioAPI, daemon bool) error, opts ...ipc.ServiceOption) error {
	if socket := c.socketPath(); socket != "" && (c.localFlag == nil || !*c.localFlag) {
		client, err := ipc.Dial(socket)
		if err == nil {
			defer client.Close()
			return fn(client, true)
		}
		if !isDaemonUnavailable(err) {
			return wrapDialError(err, socket)
		}
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.localLogger(cfg)
	if err != nil {
		return err
	}
	rt, err := capture.NewRuntime(cfg, logger, c.runtimeOptions...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warn: %v\n", closeErr)
		}
	}()
	svc, err := ipc.NewService(rt, logger, opts...)
	if err != nil {
		return err
	}
	return fn(svc, false)
}

// localLogger writes warnings to stderr so stdout stays parseable; the JSON
// log file still receives everything.
func (c *commandContext) localLogger(cfg *config.Config) (*slog.Logger, error) {
	level := "warn"
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		level = "debug"
	}
	logger, err := logging.NewFromConfig(cfg, logging.WithConsole("stderr"), logging.WithConsoleLevel(level))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) || os.IsNotExist(err)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.EACCES):
		return fmt.Errorf("connect to daemon: permission denied on socket %s", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

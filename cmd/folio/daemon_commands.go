package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"folio/internal/daemonctl"
	"folio/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the foliod capture daemon",
	}
	cmd.AddCommand(newDaemonRunCommand(ctx))
	cmd.AddCommand(newDaemonStartCommand(ctx))
	cmd.AddCommand(newDaemonStopCommand(ctx))
	cmd.AddCommand(newDaemonStatusCommand(ctx))
	return cmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:       logLevel,
				RuntimeOptions: ctx.runtimeOptions,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			launched, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: logLevel},
				10*time.Second,
			)
			if err != nil {
				return err
			}
			if !launched {
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level for the launched daemon")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon and release its cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.Stop(cmd.Context(), ctx.socketPath(), daemonrun.PIDPath(cfg), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			socket := ctx.socketPath()
			alive, pid, err := daemonctl.ProcessInfo(cmd.Context(), socket)
			if err != nil {
				return err
			}
			return ctx.emit(cmd, struct {
				Running bool   `json:"running"`
				PID     int    `json:"pid,omitempty"`
				Socket  string `json:"socket"`
			}{alive, pid, socket}, func() error {
				out := cmd.OutOrStdout()
				if !alive {
					fmt.Fprintf(out, "Daemon is not running (socket %s)\n", socket)
					return nil
				}
				fmt.Fprintf(out, "Daemon running (pid %d, socket %s)\n", pid, socket)
				return nil
			})
		},
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if strings.TrimSpace(exe) == "" {
		return "", errors.New("resolve executable: empty path")
	}
	return exe, nil
}

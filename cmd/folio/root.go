package main

import (
	"github.com/spf13/cobra"

	"folio/internal/capture"
)

// newRootCommand builds the command tree. runtimeOpts apply to every
// in-process capture runtime the commands create.
func newRootCommand(runtimeOpts ...capture.RuntimeOption) *cobra.Command {
	var socketFlag string
	var configFlag string
	var localFlag bool
	var jsonFlag bool

	ctx := newCommandContext(&socketFlag, &configFlag, &localFlag, &jsonFlag)
	ctx.runtimeOptions = runtimeOpts

	rootCmd := &cobra.Command{
		Use:           "folio",
		Short:         "Document capture appliance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the foliod socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&localFlag, "local", false, "Run in-process even when the daemon is running")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newCamerasCommand(ctx))
	rootCmd.AddCommand(newCalibrateCommand(ctx))
	rootCmd.AddCommand(newCaptureCommand(ctx))
	rootCmd.AddCommand(newProjectCommand(ctx))
	rootCmd.AddCommand(newManifestCommand(ctx))
	rootCmd.AddCommand(newDaemonCommand(ctx))

	return rootCmd
}

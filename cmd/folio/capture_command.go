package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"folio/internal/ipc"
	"folio/internal/manifest"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	var req ipc.CaptureRequest
	cmd := &cobra.Command{
		Use:   "capture <project>",
		Short: "Capture a page from one camera or both",
		Long: "Captures into the project's images directory and appends a record to its\n" +
			"capture manifest. --camera takes a camera index or \"dual\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Project = args[0]
			return ctx.withAPI(cmd, func(api folioAPI, _ bool) error {
				resp, err := api.Capture(cmd.Context(), req)
				if err != nil {
					return err
				}
				if err := ctx.emit(cmd, resp, func() error {
					renderCapture(cmd.OutOrStdout(), resp)
					return nil
				}); err != nil {
					return err
				}
				return captureOutcome(resp)
			})
		},
	}
	cmd.Flags().StringVar(&req.Camera, "camera", "dual", "Camera index or \"dual\"")
	cmd.Flags().StringVar(&req.Resolution, "resolution", "", "Resolution preset (low, medium, high)")
	cmd.Flags().BoolVar(&req.IncludeResolution, "include-resolution", false, "Include the resolution in generated filenames")
	cmd.Flags().StringVar(&req.Filename, "filename", "", "Output filename for a single-camera capture")
	cmd.Flags().StringVar(&req.Sequence, "sequence", "", "Sequence number used in generated filenames")
	return cmd
}

// captureOutcome turns a failed capture into a command error. A partial dual
// capture still produced a file and a manifest record, so it is not an error.
func captureOutcome(resp *ipc.CaptureResponse) error {
	if resp.Success || resp.Status == manifest.StatusPartial {
		return nil
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return errors.New("capture failed")
}

func renderCapture(out io.Writer, resp *ipc.CaptureResponse) {
	status := string(resp.Status)
	if status == "" {
		status = string(manifest.StatusFailed)
	}
	if resp.CaptureID != "" {
		fmt.Fprintf(out, "Capture %s: %s\n", resp.CaptureID, displayLabel(status))
	} else {
		fmt.Fprintf(out, "Capture: %s\n", displayLabel(status))
	}
	for _, path := range resp.Paths {
		size := "?"
		if info, err := os.Stat(path); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(out, "  %s (%s)\n", path, size)
	}
	if resp.Timing.TotalSeconds > 0 {
		fmt.Fprintf(out, "  Took %.2fs\n", resp.Timing.TotalSeconds)
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintf(out, "  Warning: %s\n", warning)
	}
	if resp.Error != "" && resp.Status == manifest.StatusPartial {
		fmt.Fprintf(out, "  Error: %s\n", resp.Error)
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"folio/internal/calibration"
	"folio/internal/ipc"
)

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	var req ipc.CalibrateRequest
	cmd := &cobra.Command{
		Use:   "calibrate <camera-index>",
		Short: "Calibrate focus and white balance for a camera",
		Long: "Runs the autofocus sweep and/or white balance sampling on a camera and stores\n" +
			"the profile against its hardware identity. Without --focus or --white-balance\n" +
			"both procedures run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil || index < 0 {
				return fmt.Errorf("camera index must be a non-negative integer, got %q", args[0])
			}
			req.Camera = index

			bar := newSamplingBar(cmd.ErrOrStderr(), !ctx.jsonOutput())
			defer bar.finish()

			return ctx.withAPI(cmd, func(api folioAPI, daemon bool) error {
				if daemon {
					fmt.Fprintln(cmd.ErrOrStderr(), "Calibrating via foliod; this can take a minute...")
				}
				resp, err := api.Calibrate(cmd.Context(), req)
				bar.finish()
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					renderCalibration(cmd.OutOrStdout(), resp)
					return nil
				})
			}, ipc.WithCalibrationProgress(bar.update))
		},
	}
	cmd.Flags().BoolVar(&req.Focus, "focus", false, "Run the autofocus procedure")
	cmd.Flags().BoolVar(&req.WhiteBalance, "white-balance", false, "Run white balance sampling")
	cmd.Flags().StringVar(&req.Resolution, "resolution", "", "Resolution preset used while calibrating (low, medium, high)")
	cmd.Flags().IntVar(&req.Frames, "frames", 0, "White balance frames to sample (default from config)")
	return cmd
}

func renderCalibration(out io.Writer, resp *ipc.CalibrateResponse) {
	fmt.Fprintf(out, "Camera %s calibrated\n", resp.HardwareID)
	profile := resp.Profile
	if profile == nil {
		return
	}
	if f := profile.Focus; f != nil {
		switch {
		case f.Error != "":
			fmt.Fprintf(out, "  Focus:          failed (%s)\n", f.Error)
		case f.LensPosition != nil:
			fmt.Fprintf(out, "  Focus:          lens position %.2f (%s)\n", *f.LensPosition, focusDistance(f))
		default:
			fmt.Fprintln(out, "  Focus:          no lens position reported")
		}
	}
	if wb := profile.WhiteBalance; wb != nil {
		switch {
		case wb.Error != "":
			fmt.Fprintf(out, "  White balance:  failed (%s)\n", wb.Error)
		case wb.Gains != nil:
			state := "converged"
			if !wb.Converged {
				state = "not converged"
			}
			fmt.Fprintf(out, "  White balance:  gains %.3f/%.3f over %d frames (%s)\n",
				wb.Gains.Red, wb.Gains.Blue, wb.Frames, state)
		}
	}
	if resp.Recommendation.AutofocusOnCapture {
		fmt.Fprintln(out, "  Capture:        autofocus on every capture")
	} else {
		fmt.Fprintln(out, "  Capture:        fixed lens position from this profile")
	}
	for _, note := range resp.Recommendation.Notes {
		fmt.Fprintf(out, "  Note: %s\n", note)
	}
}

func focusDistance(f *calibration.FocusResult) string {
	if f.AtInfinity {
		return "infinity"
	}
	if f.DistanceMeters != nil {
		return fmt.Sprintf("%.2f m", *f.DistanceMeters)
	}
	return "distance unknown"
}

// samplingBar renders white balance progress on a terminal. It stays silent
// when the writer is not a terminal.
type samplingBar struct {
	out     io.Writer
	enabled bool

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newSamplingBar(out io.Writer, enabled bool) *samplingBar {
	if file, ok := out.(*os.File); !ok || !isatty.IsTerminal(file.Fd()) {
		enabled = false
	}
	return &samplingBar{out: out, enabled: enabled}
}

func (s *samplingBar) update(done, total int) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar == nil {
		s.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(s.out),
			progressbar.OptionSetDescription("White balance"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	_ = s.bar.Set(done)
}

func (s *samplingBar) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		_ = s.bar.Finish()
		s.bar = nil
	}
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"folio/internal/ipc"
	"folio/internal/registry"
)

func newCamerasCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "Detect, list and label cameras",
	}
	cmd.AddCommand(newCamerasListCommand(ctx, "detect", "Detect attached cameras and register them", true))
	cmd.AddCommand(newCamerasListCommand(ctx, "list", "List registered cameras", false))
	cmd.AddCommand(newCamerasLabelCommand(ctx))
	return cmd
}

func newCamerasListCommand(ctx *commandContext, use, short string, detect bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd, func(api folioAPI, _ bool) error {
				resp, err := api.Cameras(cmd.Context(), ipc.CamerasRequest{Detect: detect})
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					if detect {
						fmt.Fprintf(out, "Detected: %s\n", describeMapping(resp.Mapping))
					}
					if len(resp.Cameras) == 0 {
						fmt.Fprintf(out, "No cameras registered in %s\n", resp.RegistryPath)
						return nil
					}
					fmt.Fprintln(out, renderCameraTable(resp.Cameras, resp.Mapping, time.Now()))
					return nil
				})
			})
		},
	}
}

func renderCameraTable(entries []registry.Entry, attached map[int]string, now time.Time) string {
	present := make(map[string]int, len(attached))
	for idx, id := range attached {
		present[id] = idx
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		index := strconv.Itoa(entry.LastSeenIndex)
		if idx, ok := present[entry.HardwareID]; ok {
			index = strconv.Itoa(idx) + " *"
		}
		calibrated := "-"
		if entry.CalibratedAt != nil {
			calibrated = humanize.RelTime(*entry.CalibratedAt, now, "ago", "from now")
		}
		rows = append(rows, []string{
			index,
			entry.HardwareID,
			entry.Model,
			dash(entry.MachineID),
			dash(entry.Label),
			calibrated,
			humanize.RelTime(entry.LastSeenAt, now, "ago", "from now"),
		})
	}
	return renderTable("Cameras",
		[]string{"Index", "Hardware ID", "Model", "Machine", "Label", "Calibrated", "Last Seen"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func newCamerasLabelCommand(ctx *commandContext) *cobra.Command {
	var label, machineID string
	cmd := &cobra.Command{
		Use:   "label <hardware-id>",
		Short: "Set the label and machine id of a registered camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.SetLabelRequest{HardwareID: args[0]}
			if cmd.Flags().Changed("label") {
				req.Label = &label
			}
			if cmd.Flags().Changed("machine-id") {
				req.MachineID = &machineID
			}
			if req.Label == nil && req.MachineID == nil {
				return fmt.Errorf("nothing to change: pass --label and/or --machine-id")
			}
			return ctx.withAPI(cmd, func(api folioAPI, _ bool) error {
				resp, err := api.SetLabel(cmd.Context(), req)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: label=%q machine=%q\n",
						resp.Camera.HardwareID, resp.Camera.Label, resp.Camera.MachineID)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Human-readable camera label")
	cmd.Flags().StringVar(&machineID, "machine-id", "", "Scanner machine the camera is mounted in")
	return cmd
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

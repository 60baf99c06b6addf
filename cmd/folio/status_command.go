package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"folio/internal/ipc"
	"folio/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, camera backend and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withAPI(cmd, func(api folioAPI, daemon bool) error {
				status, err := api.Status(cmd.Context(), ipc.StatusRequest{})
				if err != nil {
					return err
				}
				checks := preflight.RunAll(cmd.Context(), cfg)
				return ctx.emit(cmd, struct {
					*ipc.StatusResponse
					Preflight []preflight.Result `json:"preflight"`
				}{status, checks}, func() error {
					out := cmd.OutOrStdout()
					for _, line := range renderStatus(status, checks, daemon, shouldColorize(out), time.Now()) {
						fmt.Fprintln(out, line)
					}
					return nil
				})
			})
		},
	}
}

func renderStatus(status *ipc.StatusResponse, checks []preflight.Result, daemon bool, colorize bool, now time.Time) []string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if daemon && status.Running {
		lines = append(lines, renderStatusLine("foliod", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
		hotplug := statusWarn
		if status.Hotplug {
			hotplug = statusOK
		}
		lines = append(lines, renderStatusLine("Hotplug", hotplug, yesNo(status.Hotplug), colorize))
	} else {
		lines = append(lines, renderStatusLine("foliod", statusInfo, "not running; commands run in-process", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Cameras", colorize)...)
	backendKind := statusInfo
	backendDetail := status.Capture.Backend + " (idle)"
	if status.Capture.BackendReady {
		backendKind = statusOK
		backendDetail = status.Capture.Backend + " (ready)"
	}
	lines = append(lines, renderStatusLine("Backend", backendKind, backendDetail, colorize))
	if len(status.Capture.OpenHandles) > 0 {
		lines = append(lines, renderStatusLine("Open handles", statusInfo, joinInts(status.Capture.OpenHandles), colorize))
	}
	if len(status.Capture.Busy) > 0 {
		lines = append(lines, renderStatusLine("Capturing", statusWarn, joinInts(status.Capture.Busy), colorize))
	}
	lines = append(lines, renderStatusLine("Registered", statusInfo, strconv.Itoa(status.Capture.Registered), colorize))
	switch {
	case status.DetectionError != "":
		lines = append(lines, renderStatusLine("Detection", statusError, status.DetectionError, colorize))
	case !status.LastDetection.IsZero():
		detail := fmt.Sprintf("%s (%s)", describeMapping(status.Cameras), humanize.RelTime(status.LastDetection, now, "ago", "from now"))
		lines = append(lines, renderStatusLine("Detection", statusOK, detail, colorize))
	}
	if status.StatusError != "" {
		lines = append(lines, renderStatusLine("Registry", statusError, status.StatusError, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Preflight", colorize)...)
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func describeMapping(mapping map[int]string) string {
	if len(mapping) == 0 {
		return "no cameras"
	}
	indices := make([]int, 0, len(mapping))
	for idx := range mapping {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		parts = append(parts, fmt.Sprintf("%d=%s", idx, mapping[idx]))
	}
	return strings.Join(parts, ", ")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"folio/internal/manifest"
	"folio/internal/project"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect and verify project manifests",
		Long:  "Reads project manifests directly from disk; the daemon is not involved.",
	}
	cmd.AddCommand(newManifestShowCommand(ctx))
	cmd.AddCommand(newManifestVerifyCommand(ctx))
	return cmd
}

func (c *commandContext) projectLayout(name string) (project.Layout, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return project.Layout{}, err
	}
	layout, err := project.Resolve(cfg.Paths.ProjectsRoot, name)
	if err != nil {
		return project.Layout{}, err
	}
	if !layout.Initialized() {
		return project.Layout{}, fmt.Errorf("project %q is not initialized under %s", layout.Name, cfg.Paths.ProjectsRoot)
	}
	return layout, nil
}

type manifestShowOutput struct {
	Project  *manifest.ProjectInfo    `json:"project,omitempty"`
	Captures []manifest.CaptureRecord `json:"captures"`
}

func newManifestShowCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Show the capture history of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.projectLayout(args[0])
			if err != nil {
				return err
			}
			captures, err := manifest.ReadCaptures(layout.Root)
			if err != nil {
				return err
			}
			if limit > 0 && len(captures) > limit {
				captures = captures[len(captures)-limit:]
			}
			output := manifestShowOutput{Captures: captures}
			if info, ok, err := manifest.LatestProject(layout.Root); err != nil {
				return err
			} else if ok {
				output.Project = &info
			}
			return ctx.emit(cmd, output, func() error {
				out := cmd.OutOrStdout()
				if output.Project != nil {
					fmt.Fprintf(out, "Project %s (%s), created %s\n",
						output.Project.ProjectName, output.Project.ProjectID, output.Project.CreatedAt)
				}
				if len(captures) == 0 {
					fmt.Fprintln(out, "No captures recorded")
					return nil
				}
				fmt.Fprintln(out, renderCaptureTable(captures, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the most recent N captures")
	return cmd
}

func renderCaptureTable(captures []manifest.CaptureRecord, now time.Time) string {
	rows := make([][]string, 0, len(captures))
	for _, record := range captures {
		var total int64
		names := make([]string, 0, len(record.Files))
		for _, file := range record.Files {
			total += file.Bytes
			names = append(names, file.RelativePath)
		}
		when := record.TimestampUTC
		if ts, err := time.Parse(time.RFC3339Nano, record.TimestampUTC); err == nil {
			when = humanize.RelTime(ts, now, "ago", "from now")
		}
		rows = append(rows, []string{
			record.CaptureID,
			dash(record.Sequence),
			displayLabel(string(record.Status)),
			strings.Join(names, ", "),
			humanize.Bytes(uint64(total)),
			when,
		})
	}
	return renderTable("Captures",
		[]string{"Capture", "Seq", "Status", "Files", "Size", "When"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)
}

func newManifestVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <project>",
		Short: "Check recorded files against their sizes and checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.projectLayout(args[0])
			if err != nil {
				return err
			}
			report, err := manifest.Verify(layout.Root)
			if err != nil {
				return err
			}
			if err := ctx.emit(cmd, report, func() error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d records, %d files, %d verified\n", report.Records, report.Files, report.Verified)
				if report.OK() {
					return nil
				}
				rows := make([][]string, 0, len(report.Problems))
				for _, p := range report.Problems {
					detail := "-"
					if p.Expected != "" || p.Actual != "" {
						detail = "expected " + dash(p.Expected) + ", got " + dash(p.Actual)
					}
					rows = append(rows, []string{p.CaptureID, p.RelativePath, p.Reason, detail})
				}
				fmt.Fprintln(out, renderTable("Problems",
					[]string{"Capture", "File", "Reason", "Detail"},
					rows, nil,
				))
				return nil
			}); err != nil {
				return err
			}
			if !report.OK() {
				return errors.New(strconv.Itoa(len(report.Problems)) + " manifest problem(s) found")
			}
			return nil
		},
	}
}

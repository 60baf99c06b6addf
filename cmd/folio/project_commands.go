package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list capture projects",
	}
	cmd.AddCommand(newProjectInitCommand(ctx))
	cmd.AddCommand(newProjectListCommand(ctx))
	return cmd
}

func newProjectInitCommand(ctx *commandContext) *cobra.Command {
	var req ipc.InitProjectRequest
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create a project directory and its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return ctx.withAPI(cmd, func(api folioAPI, _ bool) error {
				resp, err := api.InitProject(cmd.Context(), req)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					verb := "Initialized"
					if resp.Project.Reinitialized {
						verb = "Reinitialized"
					}
					fmt.Fprintf(out, "%s project %s at %s\n", verb, resp.Project.ProjectName, resp.Root)
					fmt.Fprintf(out, "  Project ID: %s\n", resp.Project.ProjectID)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.Resolution, "resolution", "", "Default resolution preset (low, medium, high)")
	cmd.Flags().BoolVar(&req.UseCalibration, "use-calibration", false, "Apply registered calibration to the default camera settings")
	cmd.Flags().StringVar(&req.CreatedBy, "created-by", os.Getenv("USER"), "Operator recorded in the project manifest")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Reinitialize an existing project")
	return cmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List initialized projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAPI(cmd, func(api folioAPI, _ bool) error {
				resp, err := api.Projects(cmd.Context(), ipc.ProjectsRequest{})
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					if len(resp.Projects) == 0 {
						fmt.Fprintln(out, "No projects")
						return nil
					}
					rows := make([][]string, 0, len(resp.Projects))
					for _, p := range resp.Projects {
						rows = append(rows, []string{p.Name, strconv.Itoa(p.Captures), dash(p.CreatedAt), dash(p.ProjectID)})
					}
					fmt.Fprintln(out, renderTable("Projects",
						[]string{"Name", "Captures", "Created", "Project ID"},
						rows,
						[]columnAlignment{alignLeft, alignRight},
					))
					return nil
				})
			})
		},
	}
}

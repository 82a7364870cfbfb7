// Package cli implements the admin commands of the hyfed CLI: creating
// projects, distributing tokens, and managing a project's lifecycle through
// the coordinator's JSON surface.
package cli

import (
	"encoding/json"
	"strconv"

	"github.com/TUM-AIMED/hyfed/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10

	description string
	configJSON  string
)

var hsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	hsdk = s
}

func NewProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects [create|view|list|abort|delete]",
		Short: "Projects manager",
		Long:  `Create, view, list, abort, delete federated projects.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <name> <algorithm> <participants>",
		Short: "Create project",
		Long: `Create a project and issue one token per participant.

Examples:
  # A three-participant variance computation
  hyfed-cli projects create variance-study stats 3

  # A masked tick-tock run with five rounds
  hyfed-cli projects create demo ticktock 2 --config='{"rounds":{"kind":1,"int":5}}'`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 3 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			participants, err := strconv.Atoi(args[2])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			project := sdk.Project{
				Name:             args[0],
				Algorithm:        args[1],
				ParticipantCount: participants,
				Description:      description,
			}
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &project.Config); err != nil {
					logErrorCmd(*cmd, err)

					return
				}
			}

			res, err := hsdk.CreateProject(project)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, res)
		},
	}

	createCmd.Flags().StringVar(&description, "description", "", "project description")
	createCmd.Flags().StringVar(&configJSON, "config", "", "algorithm configuration as JSON")

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View project",
		Long:  `View project.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			p, err := hsdk.GetProject(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, p)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Long:  `List projects.`,
		Run: func(cmd *cobra.Command, _ []string) {
			page, err := hsdk.ListProjects(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	abortCmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Abort project",
		Long:  `Abort a running project; every party learns the outcome on its next poll.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := hsdk.AbortProject(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete project",
		Long:  `Delete a project that never started or already ended.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := hsdk.DeleteProject(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(createCmd, viewCmd, listCmd, abortCmd, deleteCmd)

	return cmd
}

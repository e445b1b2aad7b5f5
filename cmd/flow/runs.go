package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/utils"
)

// newRunsCmd groups the run lifecycle subcommands: start, list, get, resume.
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Start, inspect, and resume runs",
	}
	cmd.AddCommand(
		newRunsStartCmd(),
		newRunsListCmd(),
		newRunsGetCmd(),
		newRunsResumeCmd(),
	)
	return cmd
}

func newRunsStartCmd() *cobra.Command {
	var draft bool
	var eventPath, eventJSON string
	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Run the deployed (or latest draft) version of a stored flow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := args[0]
			event, err := loadEvent(eventPath, eventJSON)
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			var content []byte
			if draft {
				content, err = rt.store.LoadFlow(cmd.Context(), name)
			} else {
				content, err = rt.store.GetDeployed(cmd.Context(), name)
			}
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			flow, err := dsl.ParseBytes(content)
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			ef, err := dsl.Validate(flow)
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}

			res, err := rt.eng.Execute(cmd.Context(), ef, event)
			if err != nil {
				utils.Error("flow execution failed: %v", err)
				if res != nil {
					printResult(res)
				}
				exit(3)
				return
			}
			printResult(res)
		},
	}
	cmd.Flags().BoolVar(&draft, "draft", false, "Run the latest saved content instead of the deployed version")
	cmd.Flags().StringVar(&eventPath, "event", "", "Path to event JSON file")
	cmd.Flags().StringVar(&eventJSON, "event-json", "", "Event as inline JSON")
	return cmd
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			runs, err := rt.store.ListRuns(cmd.Context())
			if err != nil {
				utils.Error("list runs: %v", err)
				exit(2)
				return
			}
			for _, r := range runs {
				started := time.UnixMilli(r.StartedAt).Format(time.RFC3339)
				utils.User("%s  %-10s  %s  %s", r.ID, r.Status, started, r.FlowName)
			}
		},
	}
}

func newRunsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a run with its step executions",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(args[0])
			if err != nil {
				utils.Error("invalid run id %q: %v", args[0], err)
				exit(1)
				return
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			run, err := rt.store.GetRun(cmd.Context(), id)
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			printJSON(run)
		},
	}
}

func newRunsResumeCmd() *cobra.Command {
	var eventPath, eventJSON string
	cmd := &cobra.Command{
		Use:   "resume <token>",
		Short: "Resume a paused run with an event payload",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			event, err := loadEvent(eventPath, eventJSON)
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			res, err := rt.eng.Resume(cmd.Context(), args[0], event)
			if err != nil {
				utils.Error("resume failed: %v", err)
				if res != nil {
					printResult(res)
				}
				exit(3)
				return
			}
			if res.Status == model.RunPaused {
				utils.Info("run paused again; resume with: flow runs resume %s", res.Token)
			}
			printResult(res)
		},
	}
	cmd.Flags().StringVar(&eventPath, "event", "", "Path to event JSON file")
	cmd.Flags().StringVar(&eventJSON, "event-json", "", "Event as inline JSON")
	return cmd
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/utils"
)

// newRunCmd creates the 'run' subcommand: one-shot parse, validate, execute.
func newRunCmd() *cobra.Command {
	var eventPath, eventJSON string
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a flow file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ef, err := dsl.Load(args[0])
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
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

			res, err := rt.eng.Execute(cmd.Context(), ef, event)
			if err != nil {
				utils.Error("flow execution failed: %v", err)
				if res != nil {
					printResult(res)
				}
				exit(3)
				return
			}
			if res.Status == model.RunPaused {
				utils.Info("run paused; resume with: flow runs resume %s", res.Token)
			}
			printResult(res)
		},
	}
	cmd.Flags().StringVar(&eventPath, "event", "", "Path to event JSON file")
	cmd.Flags().StringVar(&eventJSON, "event-json", "", "Event as inline JSON")
	return cmd
}

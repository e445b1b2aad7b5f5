package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/utils"
)

// newEventsCmd groups the event bus subcommands.
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Publish events to the bus",
	}
	cmd.AddCommand(newEventsPublishCmd())
	return cmd
}

func newEventsPublishCmd() *cobra.Command {
	var payloadJSON string
	cmd := &cobra.Command{
		Use:   "publish <topic>",
		Short: "Publish an event payload to a topic",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			payload := map[string]any{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					utils.Error("payload must be a JSON object: %v", err)
					exit(1)
					return
				}
			}
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			if err := rt.eng.Publish(args[0], payload); err != nil {
				utils.Error("publish: %v", err)
				exit(3)
				return
			}
			utils.User("published to %s", args[0])
		},
	}
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "Event payload as inline JSON")
	return cmd
}

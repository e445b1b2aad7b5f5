package main

import (
	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/utils"
)

// newValidateCmd creates the 'validate' subcommand.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a flow file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ef, err := dsl.Load(args[0])
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			utils.User("%s: valid (%d top-level steps)", ef.Flow.Name, len(ef.Flow.Steps))
		},
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/utils"
)

// newGraphCmd creates the 'graph' subcommand: render the dependency graph
// as a Mermaid flowchart.
func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <file>",
		Short: "Render a flow's dependency graph as Mermaid",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ef, err := dsl.Load(args[0])
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			utils.User("%s", ef.Mermaid())
		},
	}
}

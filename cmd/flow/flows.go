package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/awantoch/beemflow/dsl"
	"github.com/awantoch/beemflow/model"
	"github.com/awantoch/beemflow/utils"
)

// newFlowsCmd groups the flow registry subcommands: save, list, get, deploy.
func newFlowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Manage stored flows and their versions",
	}
	cmd.AddCommand(
		newFlowsSaveCmd(),
		newFlowsListCmd(),
		newFlowsGetCmd(),
		newFlowsDeployCmd(),
	)
	return cmd
}

func newFlowsSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Validate and store a flow, snapshotting a version",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := args[0]
			content, err := os.ReadFile(file)
			if err != nil {
				utils.Error("read %s: %v", file, err)
				exit(1)
				return
			}
			flow, err := dsl.ParseBytes(content)
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			if _, err := dsl.Validate(flow); err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			if flow.Name != name {
				utils.Error("flow document is named %q, not %q", flow.Name, name)
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

			if err := rt.store.SaveFlow(cmd.Context(), name, content); err != nil {
				utils.Error("save flow: %v", err)
				exit(2)
				return
			}
			version := flow.Version
			if version == "" {
				version = strconv.FormatInt(utils.NowMillis(), 10)
			}
			v := &model.FlowVersion{
				Name:      name,
				Version:   version,
				Content:   content,
				CreatedAt: utils.NowMillis(),
			}
			if err := rt.store.SaveFlowVersion(cmd.Context(), v); err != nil {
				utils.Error("save flow version: %v", err)
				exit(2)
				return
			}
			utils.User("saved %s version %s", name, version)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the flow file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newFlowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored flow names",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			names, err := rt.store.ListFlows(cmd.Context())
			if err != nil {
				utils.Error("list flows: %v", err)
				exit(2)
				return
			}
			for _, name := range names {
				utils.User("%s", name)
			}
		},
	}
}

func newFlowsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a stored flow document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			content, err := rt.store.LoadFlow(cmd.Context(), args[0])
			if err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			utils.User("%s", content)
		},
	}
}

func newFlowsDeployCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "deploy <name>",
		Short: "Mark a stored version as the one runs start uses",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				utils.Error("%v", err)
				exit(2)
				return
			}
			defer rt.close(cmd.Context())

			if err := rt.store.SetDeployedVersion(cmd.Context(), args[0], version); err != nil {
				utils.Error("%v", err)
				exit(1)
				return
			}
			utils.User("deployed %s version %s", args[0], version)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Version to deploy")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stageflow/stageflow/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Validate a pipeline definition without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ParseFile(args[0])
			if err != nil {
				return err
			}

			reg, err := builtinRegistry()
			if err != nil {
				return err
			}

			graph, err := config.BuildGraph(cfg, reg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s is valid: %d stages, %d levels\n",
				cfg.Name, graph.Len(), len(graph.Levels()))
			return nil
		},
	}
}

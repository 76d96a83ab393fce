package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stageflow/stageflow/internal/config"
	"github.com/stageflow/stageflow/internal/engine"
	"github.com/stageflow/stageflow/internal/events"
	"github.com/stageflow/stageflow/internal/logger"
	"github.com/stageflow/stageflow/internal/ports"
	"github.com/stageflow/stageflow/internal/runctx"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var queueSize int

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if flags.verbose {
				level = "debug"
			}
			appLogger, err := logger.New(logger.Options{Level: level, Component: "cli"})
			if err != nil {
				return err
			}

			correlationID := ports.GenerateCorrelationID()
			ctx := ports.WithCorrelationID(cmd.Context(), correlationID)

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

			sink := events.NewBackpressureSink(
				events.NewLoggingSink(appLogger.With("component", "event_sink")),
				events.BackpressureOptions{MaxQueueSize: queueSize, Logger: appLogger},
			)
			defer sink.Stop(true, 5*time.Second)

			opts := cfg.Settings.SchedulerOptions()
			opts.Logger = appLogger.With("component", "scheduler")

			snapshot := runctx.NewSnapshot(runctx.Identity{}).WithTopology(cfg.Name)
			pc := runctx.NewPipelineContext(snapshot, runctx.WithSink(sink))

			result, err := engine.NewScheduler(graph, opts).Execute(ctx, pc)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s %s (%d stages)\n", cfg.Name, result.Status, len(result.StageDetails))
			for _, detail := range result.StageDetails {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %-8s attempt=%d %dms\n",
					detail.Name, detail.Status, detail.Attempt, detail.DurationMS)
			}
			if result.Status == "failed" {
				return fmt.Errorf("pipeline %s failed", cfg.Name)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&queueSize, "event-queue-size", 1024, "Bounded event queue size")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-graphbridge/internal/bench"
)

func newBenchCmd() *cobra.Command {
	var (
		inputsPath  string
		runs        int
		concurrency int
		format      string
		includeCold bool
		threshold   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark repeated runs of one resolved plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			model, err := openModel(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer model.Close()

			inputs, err := loadInputs(inputsPath, cmd.InOrStdin(), model.Inputs())
			if err != nil {
				return err
			}

			start := time.Now()
			results, err := bench.Run(cmd.Context(), bench.Options{Runs: runs, Concurrency: concurrency},
				func(ctx context.Context) error {
					_, err := model.Run(ctx, inputs)
					return err
				})
			if err != nil {
				return err
			}
			wall := time.Since(start)

			durations := bench.Durations(results, includeCold || runs == 1)
			stats := bench.ComputeStats(durations)
			slog.Info("bench finished",
				"runs", runs,
				"concurrency", concurrency,
				"wall_ms", wall.Milliseconds(),
				"runs_per_sec", bench.Throughput(runs, wall),
			)

			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckLatencyThreshold(stats.Mean, threshold)
		},
	}

	cmd.Flags().StringVar(&inputsPath, "inputs", "", "JSON inputs file (- for stdin); zero-filled inputs when empty")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of model runs")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Max runs in flight after the cold run")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&includeCold, "include-cold", false, "Include the cold run in the statistics")
	cmd.Flags().DurationVar(&threshold, "latency-threshold", 0, "Exit non-zero if mean latency exceeds this value (0 = disabled)")

	return cmd
}

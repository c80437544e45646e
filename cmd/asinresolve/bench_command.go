package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"asinresolve/internal/bench"
	"asinresolve/internal/engine"
	"asinresolve/internal/notifications"
)

func newBenchCommand(ctx *commandContext) *cobra.Command {
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run and compare resolution benchmarks",
	}
	benchCmd.AddCommand(newBenchRunCommand(ctx))
	benchCmd.AddCommand(newBenchShowCommand(ctx))
	benchCmd.AddCommand(newBenchCompareCommand(ctx))
	return benchCmd
}

func newBenchRunCommand(ctx *commandContext) *cobra.Command {
	var save bool
	var iterations, warmups int

	cmd := &cobra.Command{
		Use:   "run <scenario.json>",
		Short: "Run a benchmark scenario against the configured sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := bench.LoadScenario(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(func(eng *engine.Engine) error {
				cfg := eng.Config()
				benchCfg := cfg.Bench
				if cmd.Flags().Changed("iterations") {
					benchCfg.Iterations = iterations
				}
				if cmd.Flags().Changed("warmups") {
					benchCfg.Warmups = warmups
				}
				harness := bench.New(eng, benchCfg, ctx.loggerFor(cfg))
				rec, err := harness.Run(cmd.Context(), sc)
				if err != nil {
					return err
				}
				var savedPath string
				if save {
					savedPath, err = bench.Save(cfg.Bench.ResultsDir, rec)
					if err != nil {
						return err
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rec)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, bench.RenderRecord(rec))
				if savedPath != "" {
					fmt.Fprintf(out, "Saved %s\n", savedPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Persist the record to the results directory")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 0, "Measured passes (default from config)")
	cmd.Flags().IntVar(&warmups, "warmups", 0, "Unmeasured passes before measuring (default from config)")
	return cmd
}

func newBenchShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "show <record.json>",
		Short:       "Render a saved benchmark record",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := bench.Load(args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, rec)
			}
			fmt.Fprintln(cmd.OutOrStdout(), bench.RenderRecord(rec))
			return nil
		},
	}
}

func newBenchCompareCommand(ctx *commandContext) *cobra.Command {
	var tolerance float64

	cmd := &cobra.Command{
		Use:   "compare <baseline.json> <candidate.json>",
		Short: "Score a candidate record against a baseline",
		Long: "Score a candidate record against a baseline. Exits non-zero when the\n" +
			"weighted score falls below the negative tolerance.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("tolerance") {
				tolerance = cfg.Bench.Tolerance
			}
			baseline, err := bench.Load(args[0])
			if err != nil {
				return err
			}
			candidate, err := bench.Load(args[1])
			if err != nil {
				return err
			}
			cmp := bench.Compare(baseline, candidate, bench.DefaultWeights(), tolerance)
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, cmp); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), bench.RenderComparison(cmp))
			}
			if cmp.Regression {
				notifier := notifications.NewService(cfg)
				ctx.notify(cmd, notifier.NotifyBenchRegression(cmd.Context(), cmp.BaselineID, cmp.CandidateID, cmp.Score, cmp.Tolerance))
				return fmt.Errorf("regression: score %.3f below -%.3f", cmp.Score, cmp.Tolerance)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Allowed score drop before reporting a regression (default from config)")
	return cmd
}

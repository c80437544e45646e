package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"asinresolve/internal/engine"
	"asinresolve/internal/fileutil"
	"asinresolve/internal/lookup"
	"asinresolve/internal/metrics"
	"asinresolve/internal/notifications"
)

type batchSummary struct {
	BatchID     string `json:"batch_id"`
	Total       int    `json:"total"`
	Found       int    `json:"found"`
	NotFound    int    `json:"not_found"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Cached      int    `json:"cached"`
	Cancelled   bool   `json:"cancelled"`
	Unprocessed []int  `json:"unprocessed,omitempty"`
	Output      string `json:"output,omitempty"`
}

func summarize(results []lookup.Result) batchSummary {
	var s batchSummary
	s.Total = len(results)
	for _, res := range results {
		switch res.Status {
		case lookup.StatusFound:
			s.Found++
		case lookup.StatusNotFound:
			s.NotFound++
		case lookup.StatusFailed:
			s.Failed++
		case lookup.StatusSkipped:
			s.Skipped++
		}
		if res.Cached {
			s.Cached++
		}
	}
	return s
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var outputPath, format, outFormat string
	var workers int
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "batch <input>",
		Short: "Resolve every request in a CSV or JSONL file",
		Long: "Resolve every request in a CSV (title,author,isbn,language header) or JSONL file.\n" +
			"Results are written in input order. Use '-' to read standard input.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			inFormat, err := detectFormat(format, input)
			if err != nil {
				return err
			}
			reqs, err := loadRequests(cmd, input, inFormat)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				return fmt.Errorf("no requests found in %s", input)
			}
			resultFormat, err := outputFormat(cmd, outFormat, outputPath, inFormat)
			if err != nil {
				return err
			}

			return ctx.withEngine(func(eng *engine.Engine) error {
				runCtx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				cfg := eng.Config()
				if cfg.Metrics.Enabled {
					go func() {
						if err := metrics.Serve(runCtx, cfg.Metrics.Listen, eng.Gatherer(), ctx.loggerFor(cfg)); err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "metrics endpoint: %v\n", err)
						}
					}()
				}

				notifier := notifications.NewService(cfg)
				progress := newProgressPrinter(cmd.ErrOrStderr(), !noProgress && !ctx.jsonOutput())
				report, err := eng.ResolveBatch(runCtx, reqs, workers, progress.update)
				progress.finish()
				if err != nil {
					ctx.notify(cmd, notifier.NotifyError(cmd.Context(), err, "batch"))
					return err
				}

				summary := summarize(report.Results)
				summary.BatchID = report.BatchID
				summary.Cancelled = report.Cancelled
				summary.Unprocessed = report.Unprocessed

				if outputPath != "" {
					if err := writeResultsFile(outputPath, resultFormat, report.Results); err != nil {
						ctx.notify(cmd, notifier.NotifyError(cmd.Context(), err, "batch output"))
						return err
					}
					summary.Output = outputPath
				}
				ctx.notify(cmd, notifier.NotifyBatchCompleted(context.WithoutCancel(cmd.Context()), notifications.BatchSummary{
					BatchID:   summary.BatchID,
					Total:     summary.Total,
					Found:     summary.Found,
					NotFound:  summary.NotFound,
					Failed:    summary.Failed,
					Skipped:   summary.Skipped,
					Cancelled: summary.Cancelled,
					Elapsed:   report.Elapsed,
				}))

				if ctx.jsonOutput() {
					if outputPath == "" {
						return writeJSON(cmd, struct {
							batchSummary
							Results []lookup.Result `json:"results"`
						}{summary, report.Results})
					}
					return writeJSON(cmd, summary)
				}

				out := cmd.OutOrStdout()
				if outputPath == "" {
					if err := writeResults(out, resultFormat, report.Results); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Resolved %d/%d (not found %d, failed %d, skipped %d, cached %d)\n",
					summary.Found, summary.Total, summary.NotFound, summary.Failed, summary.Skipped, summary.Cached)
				if report.Cancelled {
					return fmt.Errorf("batch cancelled: %d requests were not attempted", len(report.Unprocessed))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write results to this file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "", "Input format: csv or jsonl (default from extension)")
	cmd.Flags().StringVar(&outFormat, "output-format", "", "Output format: csv or jsonl (default matches input)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent lookups for this batch (default: pool size)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress line")
	return cmd
}

func loadRequests(cmd *cobra.Command, input, format string) ([]lookup.Request, error) {
	var r io.Reader
	if input == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return readRequests(r, format)
}

func writeResultsFile(path, format string, results []lookup.Result) error {
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return writeResults(w, format, results)
	})
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// outputFormat honors an explicit --output-format, then the output file's
// extension, then the input format.
func outputFormat(cmd *cobra.Command, flag, outputPath, inFormat string) (string, error) {
	if cmd.Flags().Changed("output-format") {
		return detectFormat(flag, "")
	}
	if outputPath != "" {
		if detected, err := detectFormat("", outputPath); err == nil {
			return detected, nil
		}
	}
	return inFormat, nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"asinresolve/internal/ratelimit"
)

func newLimitsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show the effective per-domain rate limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			limiter, err := ratelimit.New(ratelimit.FromConfig(cfg))
			if err != nil {
				return err
			}
			// Touch every source domain so unconfigured ones show the default.
			for _, src := range cfg.Sources {
				if src.Domain != "" {
					limiter.Snapshot(src.Domain)
				}
			}
			domains := limiter.Domains()

			states := make([]ratelimit.State, 0, len(domains))
			for _, domain := range domains {
				states = append(states, limiter.Snapshot(domain))
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, states)
			}
			rows := make([][]string, 0, len(states))
			for _, st := range states {
				rows = append(rows, []string{
					st.Domain,
					fmt.Sprintf("%d", st.Capacity),
					fmt.Sprintf("%.2f/s", st.RefillRate),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Domain", "Capacity", "Refill"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			fmt.Fprintf(out, "Backoff: %s initial, x%.1f per failure, %s max (after %d failures)\n",
				cfg.RateLimits.BackoffInitial.Std().Round(time.Millisecond),
				cfg.RateLimits.BackoffBase,
				cfg.RateLimits.BackoffMax.Std(),
				cfg.RateLimits.FailureThreshold)
			return nil
		},
	}
}

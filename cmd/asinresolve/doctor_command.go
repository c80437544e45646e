package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"asinresolve/internal/cache"
	"asinresolve/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, the cache, and every configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, openErr := cache.OpenFromConfig(cfg, ctx.loggerFor(cfg))
			if openErr == nil {
				defer store.Close()
			} else {
				store = nil
			}
			client := &http.Client{Timeout: timeout}
			results := preflight.RunAll(cmd.Context(), cfg, store, client)
			if openErr != nil {
				results = append(results, preflight.Result{Name: "Cache open", Detail: openErr.Error()})
			}
			failed := preflight.Failed(results)

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				p := newCheckPrinter(cmd.OutOrStdout())
				p.section("Preflight")
				for _, r := range results {
					p.check(r.Name, r.Passed, r.Detail)
				}
				if ctx.configPath != "" {
					p.info("Config", ctx.configPath)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Timeout for each source reachability probe")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"asinresolve/internal/cache"
	"asinresolve/internal/config"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the lookup cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheExpireCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	cacheCmd.AddCommand(newCacheHealthCommand(ctx))
	cacheCmd.AddCommand(newCacheMigrateCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Path", store.Path()},
					{"Entries", fmt.Sprintf("%d", stats.TotalEntries)},
					{"Negative", fmt.Sprintf("%d", stats.NegativeEntries)},
					{"Expired", fmt.Sprintf("%d", stats.ExpiredEntries)},
					{"Size", humanBytes(stats.SizeBytes)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newCacheExpireCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Delete expired entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				removed, err := store.ExpireAll(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the cache without --yes")
			}
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func newCacheHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run schema and integrity checks on the cache database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, health)
				}
				p := newCheckPrinter(cmd.OutOrStdout())
				p.check("Database", health.DatabaseExists && health.DatabaseReadable, health.DBPath)
				p.check("Schema", health.SchemaVersion == health.ExpectedVersion,
					fmt.Sprintf("version %s (expected %s)", health.SchemaVersion, health.ExpectedVersion))
				columns := "all columns present"
				if len(health.MissingColumns) > 0 {
					columns = "missing " + strings.Join(health.MissingColumns, ", ")
				}
				p.check("Table", health.TableExists && len(health.MissingColumns) == 0, columns)
				p.check("Integrity", health.IntegrityCheck, fmt.Sprintf("%d entries", health.TotalEntries))
				if health.Error != "" {
					p.check("Error", false, health.Error)
				}
				if !health.Healthy() {
					return fmt.Errorf("cache is unhealthy")
				}
				return nil
			})
		},
	}
}

func newCacheMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [legacy.json]",
		Short: "Import a legacy JSON cache file",
		Long: "Import a legacy flat JSON cache file into the durable cache.\n" +
			"The legacy file is backed up before import and left in place.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				path := cfg.Cache.LegacyPath
				if len(args) == 1 {
					expanded, err := config.ExpandPath(args[0])
					if err != nil {
						return err
					}
					path = expanded
				}
				if strings.TrimSpace(path) == "" {
					return fmt.Errorf("no legacy cache path given and cache.legacy_path is not set")
				}
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("legacy cache: %w", err)
				}
				report, err := store.MigrateFrom(cmd.Context(), path)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d entries (%d already present, %d skipped)\n", report.Imported, report.Existing, report.Skipped)
				if report.BackupPath != "" {
					fmt.Fprintf(out, "Backup written to %s\n", report.BackupPath)
				}
				return nil
			})
		},
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

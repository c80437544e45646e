package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"asinresolve/internal/engine"
	"asinresolve/internal/lookup"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var title, author, isbn, language string
	var showAttempts bool

	cmd := &cobra.Command{
		Use:   "resolve [title]",
		Short: "Resolve a single book to its catalog identifier",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && title == "" {
				title = args[0]
			}
			req := lookup.NewRequest(title, author, isbn, language)
			if !req.Valid() {
				return fmt.Errorf("a title or --isbn is required")
			}
			return ctx.withEngine(func(eng *engine.Engine) error {
				res, err := eng.ResolveOne(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(resultHeaders, resultRows([]lookup.Result{res}), resultAligns))
				if showAttempts && len(res.Attempts) > 0 {
					rows := make([][]string, 0, len(res.Attempts))
					for _, a := range res.Attempts {
						score := ""
						if a.Score > 0 {
							score = fmt.Sprintf("%.2f", a.Score)
						}
						rows = append(rows, []string{a.Source, a.Outcome, score, a.Err})
					}
					fmt.Fprintln(out, renderTable([]string{"Source", "Outcome", "Score", "Error"}, rows,
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				}
				if res.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", strings.TrimSpace(res.Error))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Book title")
	cmd.Flags().StringVarP(&author, "author", "a", "", "Book author")
	cmd.Flags().StringVar(&isbn, "isbn", "", "ISBN-10 or ISBN-13")
	cmd.Flags().StringVar(&language, "language", "", "Language code")
	cmd.Flags().BoolVar(&showAttempts, "attempts", false, "Show every source attempt")
	return cmd
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"droid-pilot/internal/console"
	"droid-pilot/internal/journal"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := journal.Open(ctx, a.cfg.Journal.Path, a.logger)
			if err != nil {
				return err
			}
			defer j.Close()

			if runID != "" {
				steps, err := j.Steps(ctx, runID)
				if err != nil {
					return err
				}
				console.PrintSteps(os.Stdout, steps)
				return nil
			}

			runs, err := j.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			console.PrintRuns(os.Stdout, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the steps of one run")
	return cmd
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"droid-pilot/internal/agent"
	"droid-pilot/internal/console"
)

func newRunCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task in the foreground and print progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, strings.Join(args, " "), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the model's reasoning for every step")
	cmd.Flags().Int("max-steps", 0, "step budget for the run")
	_ = a.v.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps"))
	return cmd
}

func (a *app) run(ctx context.Context, task string, verbose bool) error {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.orch.Subscribe(console.NewPrinter(os.Stdout, verbose))
	if _, err := rt.orch.Start(ctx, task); err != nil {
		return err
	}

	select {
	case <-rt.orch.Done():
	case <-ctx.Done():
		rt.orch.Stop()
	}

	state := rt.orch.State()
	if usage := rt.tracker.Snapshot(); usage.Total > 0 {
		a.logger.Sugar().Infof("Tokens used: %d (prompt %d, completion %d)", usage.Total, usage.Prompt, usage.Completion)
	}
	if state.Status == agent.StatusFailed {
		return errors.New(state.Reason)
	}
	return nil
}

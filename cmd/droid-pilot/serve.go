package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"droid-pilot/internal/server"
	"droid-pilot/internal/task"
	"droid-pilot/internal/websocket"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("bind", "", "address to bind")
	cmd.Flags().Int("port", 0, "port to listen on")
	_ = a.v.BindPFlag("server.bind_ip", cmd.Flags().Lookup("bind"))
	_ = a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	rt, err := buildRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	hub := websocket.NewHub(a.logger)
	rt.tracker.OnUpdate(hub.SendTokenUpdate)
	manager := task.NewManager(rt.orch, hub, a.logger)
	rt.orch.Subscribe(hub)
	rt.orch.Subscribe(manager)

	deps := server.Dependencies{
		Tasks:  manager,
		Agent:  rt.orch,
		Hub:    hub,
		Logger: a.logger,
	}
	if rt.journal != nil {
		deps.Runs = rt.journal
	}
	srv := server.New(a.cfg.Server, deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})

	err = g.Wait()
	a.logger.Info("Shutting down", zap.Error(err))
	return err
}

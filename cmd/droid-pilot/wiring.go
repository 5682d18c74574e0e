package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"droid-pilot/internal/action"
	"droid-pilot/internal/agent"
	"droid-pilot/internal/config"
	"droid-pilot/internal/device"
	"droid-pilot/internal/device/adb"
	"droid-pilot/internal/device/desktop"
	"droid-pilot/internal/journal"
	"droid-pilot/internal/llm"
	"droid-pilot/internal/screen"
	"droid-pilot/internal/telemetry"
	"droid-pilot/internal/token"
)

func openDevice(cfg config.DeviceConfig, logger *zap.Logger) (device.Device, error) {
	switch cfg.Backend {
	case "adb":
		return adb.New(cfg, logger), nil
	case "desktop":
		d, err := desktop.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown device backend %q", cfg.Backend)
}

// runtime is the fully wired agent plus everything that must be closed with it.
type runtime struct {
	device   device.Device
	decider  *llm.DecisionClient
	tracker  *token.Tracker
	journal  *journal.Journal
	orch     *agent.Orchestrator
	shutdown telemetry.ShutdownFunc
	logger   *zap.Logger
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{shutdown: func(context.Context) error { return nil }, logger: logger}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, "droid-pilot", Version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.shutdown = shutdown

	rt.tracker = token.NewTracker(logger)
	rt.decider, err = llm.NewDecisionClient(cfg.LLM, cfg.Agent.HistorySize, rt.tracker, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("decision client: %w", err)
	}
	logger.Info("Decision client ready",
		zap.String("provider", rt.decider.Provider()),
		zap.Strings("models", rt.decider.Models()))

	rt.device, err = openDevice(cfg.Device, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Journal.Path != "" {
		rt.journal, err = journal.Open(ctx, cfg.Journal.Path, logger)
		if err != nil {
			logger.Warn("Journal disabled", zap.String("path", cfg.Journal.Path), zap.Error(err))
			rt.journal = nil
		}
	}

	extractor := screen.NewExtractor(cfg.Extractor, logger)
	executor := action.NewExecutor(rt.device, rt.device, action.Options{
		Aliases:      cfg.Apps.Aliases,
		WaitDuration: cfg.Agent.WaitDuration,
		MaxDepth:     extractor.MaxDepth(),
	}, logger)

	rt.orch = agent.NewOrchestrator(agent.Dependencies{
		Capturer:      rt.device,
		Accessibility: rt.device,
		Extractor:     extractor,
		Decider:       rt.decider,
		Executor:      executor,
		Logger:        logger,
	}, cfg.Agent)
	if rt.journal != nil {
		rt.orch.Subscribe(rt.journal)
	}
	return rt, nil
}

// Close stops any run and releases resources in reverse order of creation.
func (rt *runtime) Close() {
	if rt.orch != nil {
		rt.orch.Close()
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn("Failed to close journal", zap.Error(err))
		}
	}
	if rt.device != nil {
		if err := rt.device.Close(); err != nil {
			rt.logger.Warn("Failed to close device", zap.Error(err))
		}
	}
	if rt.decider != nil {
		rt.decider.Close()
	}
	if err := rt.shutdown(context.Background()); err != nil {
		rt.logger.Warn("Failed to flush traces", zap.Error(err))
	}
}

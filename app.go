package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/landrive/internal/config"
	"github.com/tonimelisma/landrive/internal/discovery"
	"github.com/tonimelisma/landrive/internal/drive"
	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/transfer"
)

// app bundles the wired components a command needs: the event hub, the
// drive manager, and the transfer engine over its job store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	hub    *events.Hub
	drives *drive.Manager
	store  *transfer.Store
	engine *transfer.Engine
}

// newApp wires and starts the component stack from the resolved config.
// Configured drives are registered but not connected; commands connect the
// drives they need.
func newApp(ctx context.Context) (*app, error) {
	logger := buildLogger()
	hub := events.NewHub(logger)

	drives, err := buildDriveManager(resolvedCfg, hub, logger)
	if err != nil {
		return nil, err
	}

	store, err := transfer.NewStore(config.DefaultJobsDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}

	engine, err := buildTransferEngine(resolvedCfg, store, drives, hub, logger)
	if err != nil {
		store.Close()

		return nil, err
	}

	if err := engine.Start(ctx); err != nil {
		store.Close()

		return nil, fmt.Errorf("starting transfer engine: %w", err)
	}

	return &app{
		cfg:    resolvedCfg,
		logger: logger,
		hub:    hub,
		drives: drives,
		store:  store,
		engine: engine,
	}, nil
}

// Close drains workers and releases the job store.
func (a *app) Close() {
	a.engine.Stop()

	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing job store", slog.String("error", err.Error()))
	}
}

// buildDriveManager creates the drive manager and registers every
// configured drive in the Disconnected state.
func buildDriveManager(cfg *config.Config, hub *events.Hub, logger *slog.Logger) (*drive.Manager, error) {
	base, err := config.ParseDuration(cfg.Reconnect.BaseDelay)
	if err != nil {
		return nil, fmt.Errorf("reconnect base_delay: %w", err)
	}

	maxDelay, err := config.ParseDuration(cfg.Reconnect.MaxDelay)
	if err != nil {
		return nil, fmt.Errorf("reconnect max_delay: %w", err)
	}

	connectTimeout, err := config.ParseDuration(cfg.Network.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("network connect_timeout: %w", err)
	}

	policy := drive.ReconnectPolicy{
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}

	m := drive.NewManager(policy, connectTimeout, hub, logger)

	for id, d := range cfg.Drives {
		if err := m.AddDrive(id, d); err != nil {
			return nil, fmt.Errorf("registering drive %s: %w", id, err)
		}
	}

	return m, nil
}

// buildTransferEngine creates the engine from the [transfers] section.
func buildTransferEngine(
	cfg *config.Config, store *transfer.Store, drives *drive.Manager,
	hub *events.Hub, logger *slog.Logger,
) (*transfer.Engine, error) {
	chunkSize, err := config.ParseSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("transfers chunk_size: %w", err)
	}

	chunkTimeout, err := config.ParseDuration(cfg.Transfers.ChunkTimeout)
	if err != nil {
		return nil, fmt.Errorf("transfers chunk_timeout: %w", err)
	}

	retention, err := config.ParseDuration(cfg.Transfers.HistoryRetention)
	if err != nil {
		return nil, fmt.Errorf("transfers history_retention: %w", err)
	}

	retryBase, err := config.ParseDuration(cfg.Transfers.RetryBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("transfers retry_base_delay: %w", err)
	}

	retryMax, err := config.ParseDuration(cfg.Transfers.RetryMaxDelay)
	if err != nil {
		return nil, fmt.Errorf("transfers retry_max_delay: %w", err)
	}

	limiter, err := transfer.NewBandwidthLimiter(cfg.Transfers.BandwidthLimit, logger)
	if err != nil {
		return nil, err
	}

	engineCfg := transfer.Config{
		Workers:          cfg.Transfers.Workers,
		ChunkSize:        chunkSize,
		ChunkTimeout:     chunkTimeout,
		HistoryRetention: retention,
		NetworkRetries:   cfg.Transfers.RetryAttempts,
		RetryBaseDelay:   retryBase,
		RetryMaxDelay:    retryMax,
	}

	return transfer.NewEngine(engineCfg, store, drives, limiter, hub, logger), nil
}

// buildDiscoveryEngine creates the discovery engine from the [discovery]
// section with the default TCP port prober.
func buildDiscoveryEngine(cfg *config.Config, hub *events.Hub, logger *slog.Logger) (*discovery.Engine, error) {
	scanDuration, err := config.ParseDuration(cfg.Discovery.ScanDuration)
	if err != nil {
		return nil, fmt.Errorf("discovery scan_duration: %w", err)
	}

	probeTimeout, err := config.ParseDuration(cfg.Discovery.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("discovery probe_timeout: %w", err)
	}

	silenceWindow, err := config.ParseDuration(cfg.Discovery.SilenceWindow)
	if err != nil {
		return nil, fmt.Errorf("discovery silence_window: %w", err)
	}

	prober := &discovery.PortProber{
		Timeout: probeTimeout,
		Workers: cfg.Discovery.ProbeWorkers,
		Logger:  logger,
	}

	engineCfg := discovery.Config{
		ScanDuration:  scanDuration,
		SilenceWindow: silenceWindow,
	}

	return discovery.NewEngine(engineCfg, prober, hub, logger), nil
}

// scanInterval returns the daemon's periodic rescan interval.
func scanInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDuration(cfg.Discovery.ScanInterval)
}

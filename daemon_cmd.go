package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/config"
	"github.com/tonimelisma/landrive/internal/daemon"
	"github.com/tonimelisma/landrive/internal/syncsvc"
)

// syncStateFileName is the file holding the last-synced record copies.
const syncStateFileName = "syncstate.json"

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the long-lived landrive daemon",
		Long: `Run landrive as a daemon: connect configured drives and hold their
sessions open with automatic reconnect, rescan the network periodically,
watch the sync outbox for pending changes, and serve the control API
(status, jobs, sync, and the /events websocket stream) on the configured
listen address.`,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}

	defer app.Close()

	discoveryEngine, err := buildDiscoveryEngine(app.cfg, app.hub, app.logger)
	if err != nil {
		return err
	}

	interval, err := scanInterval(app.cfg)
	if err != nil {
		return fmt.Errorf("discovery scan_interval: %w", err)
	}

	shutdownTimeout, err := config.ParseDuration(app.cfg.Sync.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("sync shutdown_timeout: %w", err)
	}

	store, err := syncsvc.NewFileStore(filepath.Join(config.DefaultDataDir(), syncStateFileName))
	if err != nil {
		return err
	}

	orchestrator := syncsvc.NewOrchestrator(store, app.engine, app.hub, app.logger)

	driveIDs := make([]string, 0, len(app.cfg.Drives))
	for id := range app.cfg.Drives {
		driveIDs = append(driveIDs, id)
	}

	sort.Strings(driveIDs)

	srv := daemon.New(daemon.Options{
		Hub:             app.hub,
		Discovery:       discoveryEngine,
		Drives:          app.drives,
		Engine:          app.engine,
		Orchestrator:    orchestrator,
		Logger:          app.logger,
		ListenAddr:      app.cfg.Network.ListenAddr,
		ScanInterval:    interval,
		OutboxDir:       app.cfg.Sync.OutboxDir,
		DriveIDs:        driveIDs,
		ShutdownTimeout: shutdownTimeout,
	})

	return srv.Run(ctx)
}

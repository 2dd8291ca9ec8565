package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/config"
	"github.com/tonimelisma/landrive/internal/daemon"
	"github.com/tonimelisma/landrive/internal/syncsvc"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync pending outbox collections",
		Long: `Run one sync pass over the collections pending in the outbox directory
(sync.outbox_dir). Each entity type syncs independently; file items are
moved through the transfer engine and metadata-only items go straight to
the sync store.

If a daemon is running, the sync is delegated to it so it reuses the
daemon's open drive sessions.`,
		RunE: runSync,
	}

	cmd.Flags().String("user", "", "sync user id (defaults to the hostname)")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	// Prefer the daemon's open sessions when one is running.
	client := daemon.NewClient(resolvedCfg.Network.ListenAddr)
	if results, err := client.Sync(cmd.Context(), nil); err == nil {
		return printSyncResults(results)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collections, err := syncsvc.LoadOutbox(resolvedCfg.Sync.OutboxDir)
	if err != nil {
		return err
	}

	if len(collections) == 0 {
		fmt.Println("Nothing to sync.")

		return nil
	}

	app, err := newApp(ctx)
	if err != nil {
		return err
	}

	defer app.Close()

	// File items need their drives connected before the engine can reach
	// remote bytes.
	for _, item := range collections[syncsvc.EntityFiles] {
		if item.DriveID == "" {
			continue
		}

		if err := app.drives.Connect(ctx, item.DriveID); err != nil {
			return fmt.Errorf("connecting drive %s: %w", item.DriveID, err)
		}
	}

	store, err := syncsvc.NewFileStore(filepath.Join(config.DefaultDataDir(), syncStateFileName))
	if err != nil {
		return err
	}

	orchestrator := syncsvc.NewOrchestrator(store, app.engine, app.hub, app.logger)

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		if userID, err = os.Hostname(); err != nil {
			userID = "local"
		}
	}

	return printSyncResults(orchestrator.SyncAll(ctx, userID, collections))
}

// printSyncResults renders per-entity-type outcomes and returns an error
// if any type failed.
func printSyncResults(results map[syncsvc.EntityType]syncsvc.Outcome) error {
	if flagJSON {
		if err := printJSON(results); err != nil {
			return err
		}
	}

	types := make([]string, 0, len(results))
	for t := range results {
		types = append(types, string(t))
	}

	sort.Strings(types)

	failed := 0

	for _, t := range types {
		outcome := results[syncsvc.EntityType(t)]

		// Outcomes from the daemon arrive over JSON, where only ErrText
		// survives.
		errText := outcome.ErrText
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}

		if errText != "" {
			failed++

			if !flagJSON {
				fmt.Printf("%-10s failed: %s\n", t, errText)
			}

			continue
		}

		if !flagJSON {
			fmt.Printf("%-10s %d synced, %d unchanged\n", t, outcome.Synced, outcome.Skipped)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d entity type(s) failed to sync", failed)
	}

	return nil
}

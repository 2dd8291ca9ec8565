package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, drive, transfer, and sync status",
		Long: `Display the running daemon's full status: scan state, discovered
devices, drive connection states, transfer jobs, and per-entity-type sync
results. Requires a running daemon ('landrive daemon').`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client := daemon.NewClient(resolvedCfg.Network.ListenAddr)

	report, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}

	if flagJSON {
		return printJSON(report)
	}

	fmt.Printf("Scan: %s (%d devices known)\n\n", report.ScanState, report.Devices)

	if len(report.Drives) > 0 {
		fmt.Println("Drives:")
		printDriveStatuses(report.Drives)
		fmt.Println()
	}

	if len(report.Jobs) > 0 {
		fmt.Printf("Jobs: %d\n", len(report.Jobs))

		rows := make([][]string, 0, len(report.Jobs))
		for _, j := range report.Jobs {
			rows = append(rows, []string{j.ID, string(j.Direction), string(j.State)})
		}

		printTable(os.Stdout, []string{"ID", "DIRECTION", "STATE"}, rows)
		fmt.Println()
	}

	if len(report.Sync) > 0 {
		fmt.Println("Sync:")

		rows := make([][]string, 0, len(report.Sync))
		for _, s := range report.Sync {
			rows = append(rows, []string{
				string(s.Type), string(s.State), formatTime(s.LastSyncTime), s.LastError,
			})
		}

		printTable(os.Stdout, []string{"ENTITY", "STATE", "LAST SYNC", "ERROR"}, rows)
	}

	return nil
}

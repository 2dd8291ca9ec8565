package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/config"
	"github.com/tonimelisma/landrive/internal/daemon"
	"github.com/tonimelisma/landrive/internal/transfer"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and control transfer jobs",
		Long: `List transfer jobs and pause, resume, or cancel them.

Pause, resume, and cancel act on the running daemon. Listing works without
a daemon by reading the job store directly.`,
		RunE: runJobsList,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List transfer jobs",
		RunE:  runJobsList,
	})
	cmd.AddCommand(newJobActionCmd("pause", "Pause an active job at its next chunk boundary"))
	cmd.AddCommand(newJobActionCmd("resume", "Resume a paused job"))
	cmd.AddCommand(newJobActionCmd("cancel", "Cancel a job and discard partial data"))

	return cmd
}

func newJobActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := daemon.NewClient(resolvedCfg.Network.ListenAddr)

			if err := client.JobAction(cmd.Context(), args[0], action); err != nil {
				return fmt.Errorf("is the daemon running? %w", err)
			}

			fmt.Printf("Job %s: %s requested.\n", args[0], action)

			return nil
		},
	}
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jobs, err := loadJobs(cmd)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("No transfer jobs.")

		return nil
	}

	rows := make([][]string, 0, len(jobs))

	for _, j := range jobs {
		progress := formatSize(j.BytesTransferred)
		if j.TotalBytes > 0 {
			progress = fmt.Sprintf("%s / %s", formatSize(j.BytesTransferred), formatSize(j.TotalBytes))
		}

		rows = append(rows, []string{
			j.ID,
			j.DriveID,
			string(j.Direction),
			string(j.State),
			progress,
			formatTime(j.UpdatedAt),
			j.ErrorKind,
		})
	}

	printTable(os.Stdout, []string{"ID", "DRIVE", "DIRECTION", "STATE", "PROGRESS", "UPDATED", "ERROR"}, rows)

	return nil
}

// loadJobs prefers the daemon's live view and falls back to reading the
// job store directly when no daemon is running.
func loadJobs(cmd *cobra.Command) ([]transfer.Job, error) {
	client := daemon.NewClient(resolvedCfg.Network.ListenAddr)

	if jobs, err := client.Jobs(cmd.Context()); err == nil {
		return jobs, nil
	}

	logger := buildLogger()

	store, err := transfer.NewStore(config.DefaultJobsDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}

	defer store.Close()

	stored, err := store.ListJobs(cmd.Context())
	if err != nil {
		return nil, err
	}

	jobs := make([]transfer.Job, 0, len(stored))
	for _, j := range stored {
		jobs = append(jobs, *j)
	}

	return jobs, nil
}

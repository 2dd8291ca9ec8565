package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/transfer"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <drive> <remote-path> [local-path]",
		Short: "Download a file from a drive",
		Long: `Download a remote file through the transfer engine.

The destination defaults to the remote file's base name in the current
directory. Downloads land in a .partial file and are renamed into place
only after completing (and passing checksum verification when --checksum
is given).`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runGet,
	}

	addTransferFlags(cmd)

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	driveID, remotePath := args[0], args[1]

	localPath := filepath.Base(remotePath)
	if len(args) == 3 {
		localPath = args[2]
	}

	req := transfer.Request{
		DriveID:    driveID,
		Direction:  transfer.DirectionDownload,
		SourcePath: remotePath,
		DestPath:   localPath,
	}

	return runTransfer(cmd, req)
}

// addTransferFlags binds the flags shared by get and put.
func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().String("checksum", "", "expected hex SHA-256 digest of the source")
	cmd.Flags().Int("priority", 0, "queue priority (higher runs first)")
	cmd.Flags().Bool("resumable", false, "keep partial destination data if cancelled")
}

// runTransfer connects the drive, enqueues the job, and blocks printing
// progress until the job terminates. Shared by get and put.
func runTransfer(cmd *cobra.Command, req transfer.Request) error {
	req.Checksum, _ = cmd.Flags().GetString("checksum")
	req.Priority, _ = cmd.Flags().GetInt("priority")
	req.Resumable, _ = cmd.Flags().GetBool("resumable")

	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer app.Close()

	if err := app.drives.Connect(cmd.Context(), req.DriveID); err != nil {
		return fmt.Errorf("connecting drive %s: %w", req.DriveID, err)
	}

	job, err := app.engine.Enqueue(cmd.Context(), req)
	if err != nil {
		return err
	}

	statusf("Job %s queued.\n", job.ID)

	final, err := waitForJob(cmd.Context(), app.engine, job.ID)
	if err != nil {
		return err
	}

	if final.State != transfer.StateCompleted {
		return fmt.Errorf("transfer %s: %s", final.State, final.LastError)
	}

	statusf("Transferred %s in %s.\n",
		formatSize(final.BytesTransferred),
		time.Since(job.CreatedAt).Round(time.Millisecond))

	return nil
}

// waitForJob consumes the job's progress stream until a terminal state,
// printing progress lines along the way. The stored record is authoritative
// for the final state.
func waitForJob(ctx context.Context, engine *transfer.Engine, jobID string) (transfer.Job, error) {
	progress, cancel, err := engine.Subscribe(jobID)
	if err != nil {
		return transfer.Job{}, err
	}

	defer cancel()

	lastPrinted := time.Now()

	for {
		select {
		case <-ctx.Done():
			return transfer.Job{}, ctx.Err()
		case p, ok := <-progress:
			if ok && !p.State.Terminal() {
				if time.Since(lastPrinted) >= time.Second {
					printProgress(p)

					lastPrinted = time.Now()
				}

				continue
			}

			return engine.Job(ctx, jobID)
		}
	}
}

// printProgress writes a one-line progress update to stderr.
func printProgress(p transfer.Progress) {
	if p.Total > 0 {
		statusf("  %s / %s (%d%%)\n",
			formatSize(p.Bytes), formatSize(p.Total), p.Bytes*100/p.Total)

		return
	}

	statusf("  %s\n", formatSize(p.Bytes))
}

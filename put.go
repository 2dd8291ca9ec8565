package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/protocol"
	"github.com/tonimelisma/landrive/internal/transfer"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <drive> <local-path> [remote-path]",
		Short: "Upload a file to a drive",
		Long: `Upload a local file through the transfer engine.

The destination defaults to the local file's base name at the drive's root.
With --checksum, the local source is verified against the digest after the
upload completes.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runPut,
	}

	addTransferFlags(cmd)

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	driveID, localPath := args[0], args[1]

	remotePath := protocol.NormalizePath(filepath.Base(localPath))
	if len(args) == 3 {
		remotePath = protocol.NormalizePath(args[2])
	}

	req := transfer.Request{
		DriveID:    driveID,
		Direction:  transfer.DirectionUpload,
		SourcePath: localPath,
		DestPath:   remotePath,
	}

	return runTransfer(cmd, req)
}

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/config"
	"github.com/tonimelisma/landrive/internal/drive"
)

func newDriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Manage virtual drives (add, remove, list, connect)",
		Long:  "Add, remove, list, and connect the virtual drives defined in the config file.",
	}

	cmd.AddCommand(newDriveAddCmd())
	cmd.AddCommand(newDriveRemoveCmd())
	cmd.AddCommand(newDriveListCmd())
	cmd.AddCommand(newDriveConnectCmd())

	return cmd
}

func newDriveAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a drive to the config",
		Long: `Add a virtual drive section to the config file.

The id is a short slug used to refer to the drive in other commands, e.g.:
  landrive drive add nas-media --protocol smb --server 192.168.1.10 --path media --username alice`,
		Args: cobra.ExactArgs(1),
		RunE: runDriveAdd,
	}

	cmd.Flags().String("name", "", "display name (defaults to the id)")
	cmd.Flags().String("protocol", "", "transfer protocol (smb|ftp|sftp|webdav)")
	cmd.Flags().String("server", "", "server host or host:port")
	cmd.Flags().String("path", "", "remote root path (share name for smb)")
	cmd.Flags().String("username", "", "login username (empty for anonymous)")
	cmd.Flags().String("password", "", "login password")

	return cmd
}

func newDriveRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a drive from the config",
		Args:  cobra.ExactArgs(1),
		RunE:  runDriveRemove,
	}
}

func newDriveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured drives",
		RunE:  runDriveList,
	}
}

func newDriveConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <id>",
		Short: "Test-connect a drive and report the result",
		Long: `Establish the drive's session once and report success or the failure kind.

This is a connectivity check: the session is torn down when the command
exits. Persistent sessions are held by 'landrive daemon'.`,
		Args: cobra.ExactArgs(1),
		RunE: runDriveConnect,
	}
}

func runDriveAdd(cmd *cobra.Command, args []string) error {
	id := args[0]

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = id
	}

	protocol, _ := cmd.Flags().GetString("protocol")
	server, _ := cmd.Flags().GetString("server")
	path, _ := cmd.Flags().GetString("path")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	d := config.Drive{
		Name:     name,
		Protocol: protocol,
		Server:   server,
		Path:     path,
		Username: username,
		Password: password,
	}

	if err := config.AddDriveToFile(configPath(), id, d); err != nil {
		return fmt.Errorf("adding drive: %w", err)
	}

	fmt.Printf("Added drive %s (%s://%s).\n", id, protocol, server)

	return nil
}

func runDriveRemove(_ *cobra.Command, args []string) error {
	id := args[0]

	if err := config.RemoveDriveFromFile(configPath(), id); err != nil {
		return fmt.Errorf("removing drive: %w", err)
	}

	fmt.Printf("Removed drive %s.\n", id)

	return nil
}

func runDriveList(_ *cobra.Command, _ []string) error {
	if len(resolvedCfg.Drives) == 0 {
		fmt.Println("No drives configured. Run 'landrive drive add' to get started.")

		return nil
	}

	ids := make([]string, 0, len(resolvedCfg.Drives))
	for id := range resolvedCfg.Drives {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	if flagJSON {
		out := make([]map[string]string, 0, len(ids))

		for _, id := range ids {
			d := resolvedCfg.Drives[id]
			out = append(out, map[string]string{
				"id":       id,
				"name":     d.Name,
				"protocol": d.Protocol,
				"server":   d.Server,
				"path":     d.Path,
			})
		}

		return printJSON(out)
	}

	rows := make([][]string, 0, len(ids))

	for _, id := range ids {
		d := resolvedCfg.Drives[id]
		rows = append(rows, []string{id, d.Name, d.Protocol, d.Server, d.Path})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "PROTOCOL", "SERVER", "PATH"}, rows)

	return nil
}

func runDriveConnect(cmd *cobra.Command, args []string) error {
	id := args[0]

	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer app.Close()

	statusf("Connecting drive %s...\n", id)

	if err := app.drives.Connect(cmd.Context(), id); err != nil {
		status, statusErr := app.drives.Status(id)
		if statusErr == nil && status.ErrorKind != "" {
			return fmt.Errorf("connecting drive %s (%s): %w", id, status.ErrorKind, err)
		}

		return fmt.Errorf("connecting drive %s: %w", id, err)
	}

	fmt.Printf("Drive %s connected.\n", id)

	return app.drives.Disconnect(id)
}

// printDriveStatuses renders drive status snapshots for status displays.
func printDriveStatuses(statuses []drive.Status) {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })

	rows := make([][]string, 0, len(statuses))

	for _, s := range statuses {
		detail := s.LastError
		if s.ErrorKind != "" {
			detail = fmt.Sprintf("%s: %s", s.ErrorKind, s.LastError)
		}

		rows = append(rows, []string{s.ID, s.Protocol, s.Server, string(s.State), detail})
	}

	printTable(os.Stdout, []string{"ID", "PROTOCOL", "SERVER", "STATE", "DETAIL"}, rows)
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/landrive/internal/discovery"
	"github.com/tonimelisma/landrive/internal/events"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the local network for file servers",
		Long: `Sweep the local subnets for devices offering SMB, FTP, SFTP, or WebDAV.

The scan runs for the configured duration (discovery.scan_duration) and
prints the deduplicated device list when it completes. With --watch, device
events are printed live as they happen instead.`,
		RunE: runScan,
	}

	cmd.Flags().String("type", "", "only report one device type (nas|computer|server|router|printer)")
	cmd.Flags().Bool("watch", false, "print device events live during the scan")

	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	hub := events.NewHub(logger)

	engine, err := buildDiscoveryEngine(resolvedCfg, hub, logger)
	if err != nil {
		return err
	}

	filter, err := parseFilter(cmd)
	if err != nil {
		return err
	}

	watch, _ := cmd.Flags().GetBool("watch")

	var (
		eventCh     <-chan events.Event
		cancelWatch func()
	)

	if watch {
		eventCh, cancelWatch = engine.Subscribe()
		defer cancelWatch()
	}

	statusf("Scanning for %s...\n", resolvedCfg.Discovery.ScanDuration)

	done := engine.StartScan(cmd.Context(), filter)

	if watch {
		printDeviceEvents(eventCh, done)
	} else {
		select {
		case <-done:
		case <-cmd.Context().Done():
			engine.StopScan()
			<-done
		}
	}

	if err := engine.LastError(); err != nil {
		return err
	}

	return printDevices(engine.Devices())
}

// parseFilter validates the --type flag into a discovery filter.
func parseFilter(cmd *cobra.Command) (discovery.Filter, error) {
	typeFlag, _ := cmd.Flags().GetString("type")
	if typeFlag == "" || typeFlag == "all" {
		return discovery.Filter{}, nil
	}

	t := discovery.DeviceType(typeFlag)

	switch t {
	case discovery.DeviceTypeNAS, discovery.DeviceTypeComputer,
		discovery.DeviceTypeServer, discovery.DeviceTypeRouter,
		discovery.DeviceTypePrinter, discovery.DeviceTypeUnknown:
		return discovery.Filter{Type: t}, nil
	}

	return discovery.Filter{}, fmt.Errorf("unknown device type %q", typeFlag)
}

// printDeviceEvents streams found/updated/lost events until the scan ends.
func printDeviceEvents(eventCh <-chan events.Event, done <-chan struct{}) {
	for {
		select {
		case ev := <-eventCh:
			de, ok := ev.Data.(discovery.DeviceEvent)
			if !ok {
				continue
			}

			fmt.Printf("%-8s %-16s %-10s %s\n",
				de.Kind, de.Device.Addr, de.Device.Type, de.Device.Name)
		case <-done:
			return
		}
	}
}

// printDevices renders the final device snapshot.
func printDevices(devices []discovery.Device) error {
	if flagJSON {
		return printJSON(devices)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")

		return nil
	}

	rows := make([][]string, 0, len(devices))

	for _, d := range devices {
		state := ""
		if d.Lost {
			state = "lost"
		}

		rows = append(rows, []string{
			d.Name,
			d.Addr,
			string(d.Type),
			strings.Join(d.Protocols, ","),
			fmt.Sprintf("%d%%", d.Signal),
			formatTime(d.LastSeen),
			state,
		})
	}

	printTable(os.Stdout, []string{"NAME", "ADDRESS", "TYPE", "PROTOCOLS", "SIGNAL", "LAST SEEN", ""}, rows)

	return nil
}

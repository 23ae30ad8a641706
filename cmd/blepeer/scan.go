package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/pkg/config"
	"github.com/srg/blepeer/pkg/scan"
)

const formatTable = "table"

func newScanCmd() *cobra.Command {
	var (
		duration     time.Duration
		format       string
		services     []string
		allowList    []string
		blockList    []string
		noDuplicates bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed strongest signal first with their names, addresses and
advertised services. Pass an address to 'blepeer connect' to discover the
device's attribute database.`,
		Example: `  blepeer scan --duration 5s
  blepeer scan --services 180d --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case formatTable, config.FormatJSON, config.FormatYAML:
			default:
				return fmt.Errorf("invalid format '%s': must be one of [table json yaml]", format)
			}

			var serviceUUIDs []gatt.UUID
			for _, s := range services {
				u, err := gatt.ParseUUID(s)
				if err != nil {
					return fmt.Errorf("invalid service UUID: %w", err)
				}
				serviceUUIDs = append(serviceUUIDs, u)
			}

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// All arguments validated - don't show usage on runtime errors
			cmd.SilenceUsage = true

			ctx, cancel := signalContext(cmd)
			defer cancel()

			opts := &scan.Options{
				Duration:        cfg.ScanDuration,
				DuplicateFilter: noDuplicates,
				ServiceUUIDs:    serviceUUIDs,
				AllowList:       allowList,
				BlockList:       blockList,
			}
			if cmd.Flags().Changed("duration") {
				opts.Duration = duration
			}

			progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "starting", "processing results")
			progress.Start()
			devices, err := scan.NewScanner(cfg.EventQueueDepth, logger).Scan(ctx, opts, progress.Callback())
			progress.Stop()
			if err != nil {
				return err
			}

			return printDevices(cmd.OutOrStdout(), devices, format)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Scan duration, 0 for indefinite (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format (table, json, yaml)")
	cmd.Flags().StringSliceVarP(&services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&allowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&blockList, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&noDuplicates, "no-duplicates", true, "Filter duplicate advertisements")

	return cmd
}

func printDevices(w io.Writer, devices []scan.DeviceInfo, format string) error {
	switch format {
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(devices); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	for _, dev := range devices {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		uuids := make([]string, 0, len(dev.Services))
		for _, u := range dev.Services {
			uuids = append(uuids, u.String())
		}
		svcs := strings.Join(uuids, ",")
		if len(svcs) > 30 {
			svcs = svcs[:27] + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\n", name, dev.Address, dev.RSSI, svcs)
	}
	return tw.Flush()
}

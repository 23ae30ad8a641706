package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blepeer/pkg/inspect"
)

func newConnectCmd() *cobra.Command {
	var (
		connectTimeout time.Duration
		output         outputFlags
	)

	cmd := &cobra.Command{
		Use:   "connect <device-address>",
		Short: "Connect to a BLE device and discover its attribute database",
		Long: `Connects to a BLE device by address through the platform BLE stack, runs
a full discovery of services, characteristics and descriptors, prints the
hierarchy and disconnects.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// All arguments validated - don't show usage on runtime errors
			cmd.SilenceUsage = true

			ctx, cancel := signalContext(cmd)
			defer cancel()

			opts := inspect.OptionsFromConfig(cfg)
			if connectTimeout > 0 {
				opts.ConnectTimeout = connectTimeout
			}

			progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", address), "connecting", "done", "error")
			opts.Progress = progress.EventCallback()
			progress.Start()
			res, err := inspect.InspectDevice(ctx, address, opts, logger)
			progress.Stop()

			return printResult(cmd, res, err, cfg, &output)
		},
	}

	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 0, "Connection timeout (default from config)")
	output.register(cmd)

	return cmd
}

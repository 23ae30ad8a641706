package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/srg/blepeer/internal/transport/sim"
	"github.com/srg/blepeer/pkg/config"
	"github.com/srg/blepeer/pkg/inspect"
)

// outputFlags are shared by every command that prints a discovered hierarchy.
type outputFlags struct {
	format string
	json   bool
	events bool
	color  bool
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format: tree, json or yaml (default from config)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output as JSON (same as --format json)")
	cmd.Flags().BoolVar(&f.events, "events", false, "Include the discovery event transcript")
	cmd.Flags().BoolVar(&f.color, "color", false, "Force colored tree output")
}

func (f *outputFlags) resolve(cfg *config.Config) string {
	switch {
	case f.json:
		return config.FormatJSON
	case f.format != "":
		return f.format
	default:
		return cfg.OutputFormat
	}
}

// printResult renders res to the command's stdout. A partial result from an
// aborted walk is still printed before the error is returned.
func printResult(cmd *cobra.Command, res *inspect.InspectResult, runErr error, cfg *config.Config, flags *outputFlags) error {
	if res == nil {
		return runErr
	}
	if !flags.events {
		res.Events = nil
	}

	out := cmd.OutOrStdout()
	if err := render(out, res, flags.resolve(cfg), flags.color || isTerminal(out)); err != nil {
		return err
	}
	return runErr
}

// signalContext cancels on Ctrl+C.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func newDiscoverCmd() *cobra.Command {
	var (
		profilePath string
		connHandle  uint16
		output      outputFlags
	)

	cmd := &cobra.Command{
		Use:   "discover --profile <file>",
		Short: "Discover the attribute database of a simulated peripheral",
		Long: `Serves the GATT database described by a YAML or JSON profile from an
in-memory peripheral and runs a full discovery against it: primary services,
then the characteristics of every service, then the descriptors of every
characteristic. The discovered hierarchy is printed as a tree, JSON or YAML.`,
		Example: `  blepeer discover --profile heart-rate.yaml
  blepeer discover --profile heart-rate.yaml --json --events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			profile, err := sim.LoadProfile(profilePath)
			if err != nil {
				return err
			}

			// All arguments validated - don't show usage on runtime errors
			cmd.SilenceUsage = true

			ctx, cancel := signalContext(cmd)
			defer cancel()

			opts := inspect.OptionsFromConfig(cfg)
			opts.ConnHandle = connHandle

			progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Discovering %s", profilePath), "starting", "done", "error")
			opts.Progress = progress.EventCallback()
			progress.Start()
			res, err := inspect.InspectProfile(ctx, profile, opts, logger)
			progress.Stop()

			return printResult(cmd, res, err, cfg, &output)
		},
	}

	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "Peripheral profile (YAML or JSON)")
	cmd.Flags().Uint16Var(&connHandle, "conn", 1, "Connection handle to register the peripheral under")
	_ = cmd.MarkFlagRequired("profile")
	output.register(cmd)

	return cmd
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blepeer/internal/bledb"
	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/transport/sim"
	"github.com/srg/blepeer/pkg/inspect"
)

func newFindCmd() *cobra.Command {
	var (
		profilePath string
		serviceUUID string
		charUUID    string
		descUUID    string
		descFlag    bool
	)

	cmd := &cobra.Command{
		Use:   "find [uuid] --profile <file>",
		Short: "Discover a simulated peripheral and look up an attribute by UUID",
		Long: `Runs a full discovery against a simulated peripheral, then resolves a
service, characteristic or descriptor by UUID and prints its handles.

Without --service the UUID is searched in every service; a UUID found in more
than one place must be narrowed down with --service and --char.`,
		Example: `  blepeer find 2a37 --profile heart-rate.yaml
  blepeer find --profile heart-rate.yaml --service 180d --char 2a37 --desc 2902
  blepeer find 2902 --desc-search --profile heart-rate.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var targetUUID string
			if len(args) == 1 {
				targetUUID = args[0]
			}
			if targetUUID == "" && serviceUUID == "" {
				return fmt.Errorf("a UUID argument or --service is required")
			}
			if descUUID != "" && charUUID == "" && targetUUID == "" {
				return fmt.Errorf("--desc requires --char or a characteristic UUID argument")
			}
			if descFlag && descUUID == "" {
				descUUID = targetUUID
			}

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

			// Records are released with the peer, so the match is printed
			// while it is still owned.
			var out strings.Builder
			opts := inspect.OptionsFromConfig(cfg)
			opts.Inspect = func(peer *gatt.Peer) error {
				found, err := resolveTarget(peer, targetUUID, serviceUUID, charUUID, descUUID)
				if err != nil {
					return err
				}
				printTarget(&out, found)
				return nil
			}
			if _, err := inspect.InspectProfile(ctx, profile, opts, logger); err != nil {
				return err
			}

			_, err = io.WriteString(cmd.OutOrStdout(), out.String())
			return err
		},
	}

	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "Peripheral profile (YAML or JSON)")
	cmd.Flags().StringVar(&serviceUUID, "service", "", "Service UUID")
	cmd.Flags().StringVar(&charUUID, "char", "", "Characteristic UUID")
	cmd.Flags().StringVar(&descUUID, "desc", "", "Descriptor UUID")
	cmd.Flags().BoolVar(&descFlag, "desc-search", false, "Search the UUID argument among descriptors")
	_ = cmd.MarkFlagRequired("profile")

	return cmd
}

// printTarget writes one line per resolved level, names included.
func printTarget(w io.Writer, t target) {
	if t.Service != nil {
		fmt.Fprintf(w, "service        %s handles 0x%04x-0x%04x%s\n",
			t.Service.UUID, t.Service.StartHandle, t.Service.EndHandle, suffix(bledb.ServiceName(t.Service.UUID)))
	}
	if t.Characteristic != nil {
		c := t.Characteristic
		fmt.Fprintf(w, "characteristic %s decl 0x%04x value 0x%04x end 0x%04x [%s]%s\n",
			c.UUID, c.DefHandle, c.ValHandle, c.EndHandle(), strings.Join(c.Properties.Names(), ","),
			suffix(bledb.CharacteristicName(c.UUID)))
	}
	if t.Descriptor != nil {
		fmt.Fprintf(w, "descriptor     %s handle 0x%04x%s\n",
			t.Descriptor.UUID, t.Descriptor.Handle, suffix(bledb.DescriptorName(t.Descriptor.UUID)))
	}
}

func suffix(name string) string {
	if name == "" {
		return ""
	}
	return " (" + name + ")"
}

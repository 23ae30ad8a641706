package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per run so flag
// values never leak between cases.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blepeer",
		Short: "BLE GATT peer cache and discovery tool",
		Long: `Bluetooth Low Energy (BLE) GATT discovery tool that provides:

- Full attribute database discovery (services, characteristics, descriptors)
- Discovery against simulated peripherals described in YAML or JSON profiles
- Lookup of services, characteristics and descriptors by UUID
- Scanning for advertising devices and discovery of real devices through the
  platform BLE stack

Ideal for firmware development, automated testing, and GATT database exploration.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newFindCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newScanCmd())

	// Global flags
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().BoolP("verbose", "V", false, "Verbose output (same as --log-level debug)")

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

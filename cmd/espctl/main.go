// Espctl controls an ESP32 board running the LED/WiFi/OTA web firmware.
//
// It locates the board on the local /24 by probing every host, toggles and
// reads its two LEDs, reads and writes its station WiFi credentials, and
// uploads firmware over the air while following the board's verdict and
// reboot countdown. `espctl serve` offers the same controls in a browser.
//
// Usage:
//
//	espctl [command] [flags]
//
// See 'espctl --help' for available commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "espctl",
	Short: "ESP32 device control panel",
	Long: `Control an ESP32 board running the LED/WiFi/OTA web firmware.

The board is found by sweeping the local /24 subnet for a host that answers
GET /api/config/ip_addr. The last address found is remembered, so later
commands reach the board directly; pass --rescan to look again or --device
to skip discovery altogether.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(version.Get())
		}
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "espctl %s (%s, %s)\n", version.Full(), info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version information as JSON")
}

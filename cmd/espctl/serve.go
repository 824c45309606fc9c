package main

import (
	"fmt"

	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/panel"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveAddr       string
	maxFirmwareSize int64
)

// serveCmd runs the browser control panel
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser control panel",
	Long: `Run a local web control panel for the board.

The panel shows the device endpoint, toggles the LEDs, rescans the subnet
and uploads firmware. OTA progress, the reboot countdown and endpoint
changes are pushed to open pages over a websocket.

The panel listens on 127.0.0.1:8088 unless --addr or panel_addr in the
config file says otherwise. Stop it with Ctrl+C.`,
	Example: `  espctl serve
  espctl serve --addr 0.0.0.0:9000 --device 192.168.0.37`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().Int64Var(&maxFirmwareSize, "max-firmware-size", panel.DefaultMaxFirmwareSize, "Largest accepted firmware image in bytes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	t, err := openTarget(cmd)
	if err != nil {
		return err
	}
	prefs := t.registry.Preferences

	scanner, err := newScanner(prefs)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = prefs.PanelAddr
	}

	t.cell.Subscribe(func(oldURL, newURL string) {
		t.registry.RecordEndpoint(newURL)
		t.save()
	})
	t.registry.RecordEndpoint(t.cell.Snapshot())
	t.save()

	srv := panel.New(&panel.Config{Addr: addr, MaxFirmwareSize: maxFirmwareSize}, t.cell, t.client, scanner)
	bound, err := srv.Listen()
	if err != nil {
		return err
	}

	t.printer.PrintHeader("Control panel", "espctl serve",
		field("Panel", fmt.Sprintf("http://%s", bound)),
		field("Device", t.cell.Snapshot()),
	)
	t.printer.Newline()
	t.printer.Println("Press Ctrl+C to stop.")

	if err := srv.Start(); err != nil {
		logging.Error("Control panel stopped", zap.Error(err))
		return err
	}
	return nil
}

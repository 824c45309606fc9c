package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/ota"
	"github.com/espctl/espctl/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var plainOutput bool

// otaCmd uploads a firmware image and follows the device through reboot
var otaCmd = &cobra.Command{
	Use:   "ota <firmware.bin>",
	Short: "Upload a firmware image over the air",
	Long: `Upload a firmware image to the board's /OTAupdate handler.

While the image is sent, /OTAstatus is polled after every chunk that
leaves, as long as the image size is known. When the board reports success a 10 second reboot
countdown runs, after which the board is looked for again on the subnet
(unless --device pinned its address). A status of -1 ends the update with
an upload error.

Ctrl+C stops following the update; the board may still finish flashing.`,
	Example: `  # Upload with the interactive progress view
  espctl ota build/firmware.bin

  # Upload to a known address and print one line per event
  espctl ota build/firmware.bin --device 192.168.0.37 --plain`,
	Args: cobra.ExactArgs(1),
	RunE: runOTA,
}

func init() {
	otaCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print plain progress lines instead of the interactive view")
	rootCmd.AddCommand(otaCmd)
}

func runOTA(cmd *cobra.Command, args []string) error {
	path := args[0]
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ota.ErrNoFile, path)
	}

	t, err := openTarget(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	session := ota.NewSession()
	restarter := ota.RestartFunc(func() {
		if deviceFlag != "" {
			return
		}
		if _, err := t.locate(ctx); err != nil {
			logging.Warn("Rediscovery after update failed", zap.Error(err))
		}
	})
	uploader := ota.NewUploader(t.client, session, restarter)

	firmware := filepath.Base(path)
	device := t.cell.Snapshot()
	interactive := !plainOutput && outputFormat != "json" && ui.IsTerminal()

	if outputFormat != "json" {
		t.printer.PrintHeader("Firmware update", "espctl ota "+path,
			field("Device", device),
			field("Firmware", firmware),
		)
		t.printer.Newline()
	}

	var feed *ui.EventFeed
	if interactive {
		feed = ui.NewEventFeed(session)
	} else if outputFormat != "json" {
		session.Subscribe(ui.PlainReporter(cmd.OutOrStdout()))
	}

	if err := uploader.Start(ctx, path); err != nil {
		return err
	}

	if interactive {
		model, err := ui.WatchOTA(cmd.OutOrStdout(), session, feed, firmware, device)
		if err != nil {
			logging.Warn("Progress view failed", zap.Error(err))
		}
		if model.Interrupted {
			cancel()
		}
	}
	uploader.Wait()

	final := session.Snapshot()
	if !final.Firmware.IsZero() {
		t.registry.RecordFirmware(final.Firmware.CompileDate, final.Firmware.CompileTime)
	}
	t.registry.RecordEndpoint(t.cell.Snapshot())
	t.save()

	if outputFormat == "json" {
		if err := printJSON(cmd.OutOrStdout(), final); err != nil {
			return err
		}
	}

	switch final.Phase {
	case ota.PhaseDone:
		if outputFormat != "json" {
			t.printer.Newline()
			t.printer.PrintSuccess("Firmware update complete",
				field("Firmware", firmware),
				field("Sent", ui.FormatBytes(final.BytesSent)),
				field("Endpoint", t.cell.Snapshot()),
			)
		}
		return nil
	case ota.PhaseFailed:
		return otaFailure(t, final)
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("update interrupted in phase %s", final.Phase)
		}
		return fmt.Errorf("update ended in phase %s", final.Phase)
	}
}

func otaFailure(t *target, final ota.State) error {
	cause := final.Err
	if cause == nil {
		cause = errors.New(final.Message())
	}
	if outputFormat != "json" {
		t.printer.Newline()
		t.printer.PrintError("Firmware update failed", cause, []string{
			deviceapi.GetTroubleshootingHint(cause),
		})
	}
	if msg := final.Message(); msg != "" {
		return errors.New(msg)
	}
	return cause
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/espctl/espctl/internal/config"
	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/discovery"
	"github.com/espctl/espctl/internal/endpoint"
	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Global flags
var (
	deviceFlag   string
	logLevel     string
	subnetFlag   string
	mdnsFlag     bool
	rescan       bool
	outputFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&deviceFlag, "device", "", "Device address, e.g. 192.168.0.37 (skips discovery)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from "+logging.LogLevelEnvVar)
	rootCmd.PersistentFlags().StringVar(&subnetFlag, "subnet", "", "Subnet to scan, e.g. 192.168.1 or 192.168.1.0/24")
	rootCmd.PersistentFlags().BoolVar(&mdnsFlag, "mdns", false, "Try mDNS advertisements before sweeping")
	rootCmd.PersistentFlags().BoolVar(&rescan, "rescan", false, "Scan for the device even if an address is remembered")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, json)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(ledCmd)
	rootCmd.AddCommand(wifiCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(configCmd)
}

// Seams replaced in tests
var (
	loadRegistry = config.LoadRegistry
	newProber    = func(timeout time.Duration) discovery.Prober {
		return discovery.NewHTTPProber(timeout)
	}
)

func field(key, value string) ui.Field {
	return ui.Field{Key: key, Value: value}
}

// target is the device a command talks to
type target struct {
	registry *config.Registry
	cell     *endpoint.Cell
	client   *deviceapi.Client
	printer  *ui.Printer
	errOut   io.Writer
}

// openTarget resolves the device endpoint. --device wins. Otherwise the
// remembered endpoint is kept only if it still answers a probe; discovery
// runs when it does not, when nothing is remembered, or with --rescan.
func openTarget(cmd *cobra.Command) (*target, error) {
	registry, err := loadRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	start := registry.StartEndpoint()
	if deviceFlag != "" {
		start = deviceFlag
	}
	cell, err := endpoint.New(start)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", start, err)
	}

	t := &target{
		registry: registry,
		cell:     cell,
		client:   deviceapi.NewClient(cell),
		printer:  ui.NewPrinter(cmd.OutOrStdout()),
		errOut:   cmd.ErrOrStderr(),
	}

	if deviceFlag != "" {
		return t, nil
	}
	remembered := registry.Device != nil && registry.Device.LastEndpoint != ""
	if remembered && !rescan && t.confirmRemembered(cmd.Context()) {
		return t, nil
	}

	fmt.Fprintln(t.errOut, "Looking for the device on the local subnet...")
	report, err := t.locate(cmd.Context())
	if err != nil {
		return nil, err
	}
	if !report.Found {
		fmt.Fprintf(t.errOut, "No device found, using %s\n", cell.Snapshot())
	}
	return t, nil
}

// confirmRemembered probes the current endpoint once
func (t *target) confirmRemembered(ctx context.Context) bool {
	address := strings.TrimPrefix(t.cell.Snapshot(), "http://")
	res := newProber(t.registry.Preferences.ProbeTimeout()).Probe(ctx, address)
	if !res.Confirmed {
		logging.Info("Remembered endpoint did not answer, scanning",
			zap.String("endpoint", t.cell.Snapshot()),
			zap.Duration("elapsed", res.Elapsed),
		)
	}
	return res.Confirmed
}

// locate runs discovery against the target's cell and remembers a found
// endpoint.
func (t *target) locate(ctx context.Context) (*discovery.Report, error) {
	scanner, err := newScanner(t.registry.Preferences)
	if err != nil {
		return nil, err
	}
	report, err := scanner.Locate(ctx, t.cell)
	if err != nil {
		return report, err
	}
	if report.Found {
		t.registry.RecordEndpoint(t.cell.Snapshot())
		t.save()
	}
	return report, nil
}

// save persists the registry. A failure only costs the remembered state.
func (t *target) save() {
	if err := t.registry.Save(); err != nil {
		logging.Warn("Failed to save config", zap.Error(err))
	}
}

func newScanner(prefs *config.Preferences) (*discovery.Scanner, error) {
	prefix, err := resolvePrefix(subnetFlag, prefs.Subnet, discovery.DetectPrefix)
	if err != nil {
		return nil, err
	}

	cfg := discovery.Config{
		Prefix:       prefix,
		Start:        prefs.RangeStart,
		End:          prefs.RangeEnd,
		BatchSize:    prefs.BatchSize,
		PreferLowest: prefs.PreferLowest,
	}
	scanner, err := discovery.NewScanner(cfg, newProber(prefs.ProbeTimeout()))
	if err != nil {
		return nil, fmt.Errorf("invalid scan settings: %w", err)
	}
	if mdnsFlag || prefs.MDNSHint {
		scanner.Hinter = discovery.NewMDNSHinter()
	}
	return scanner, nil
}

// resolvePrefix picks the subnet to sweep: the flag, then the config file,
// then the host's own /24, then the board's soft-AP subnet.
func resolvePrefix(flag, configured string, detect func() (string, error)) (string, error) {
	for _, raw := range []string{flag, configured} {
		if raw == "" {
			continue
		}
		prefix, err := discovery.ParsePrefix(raw)
		if err != nil {
			return "", fmt.Errorf("invalid subnet %q: %w", raw, err)
		}
		return prefix, nil
	}
	prefix, err := detect()
	if err != nil {
		logging.Debug("Subnet detection failed, using default",
			zap.String("default", discovery.DefaultPrefix),
			zap.Error(err),
		)
		return discovery.DefaultPrefix, nil
	}
	return prefix, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// deviceError renders err with its troubleshooting hint and returns it
func (t *target) deviceError(title string, err error) error {
	if outputFormat != "json" {
		t.printer.PrintError(title, err, []string{deviceapi.GetTroubleshootingHint(err)})
	}
	return fmt.Errorf("%s: %s", title, deviceapi.GetShortErrorMessage(err))
}

// scanCmd sweeps the subnet for the device
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep the local subnet for the device",
	Long: `Sweep hosts 1-254 of a /24 subnet for the device.

Hosts are probed in batches of 50; all probes of a batch run at once and the
sweep stops after the first batch that finds the device. Each probe asks
GET /api/config/ip_addr and gives up after 400 ms.

When the device is found its address is remembered for later commands.
When nothing answers, the previous address is kept.`,
	Example: `  # Sweep the subnet of this host
  espctl scan

  # Sweep a specific subnet
  espctl scan --subnet 192.168.1

  # Ask mDNS first, then sweep
  espctl scan --mdns`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	start := registry.StartEndpoint()
	if deviceFlag != "" {
		start = deviceFlag
	}
	cell, err := endpoint.New(start)
	if err != nil {
		return fmt.Errorf("invalid device address %q: %w", start, err)
	}
	t := &target{registry: registry, cell: cell, printer: ui.NewPrinter(cmd.OutOrStdout()), errOut: cmd.ErrOrStderr()}

	scanner, err := newScanner(registry.Preferences)
	if err != nil {
		return err
	}
	cfg := scanner.Config

	if outputFormat != "json" {
		t.printer.PrintHeader("Subnet scan", "espctl scan",
			field("Subnet", cfg.Prefix+".0/24"),
			field("Hosts", fmt.Sprintf("%d-%d in batches of %d", cfg.Start, cfg.End, cfg.BatchSize)),
			field("Timeout", registry.Preferences.ProbeTimeout().String()),
		)
		t.printer.Newline()
	}

	report, err := scanner.Locate(cmd.Context(), cell)
	if err != nil {
		return err
	}
	if report.Found {
		registry.RecordEndpoint(cell.Snapshot())
		t.save()
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"found":       report.Found,
			"address":     report.Address,
			"source":      report.Source,
			"rounds":      report.Rounds,
			"probed":      report.Probed,
			"canceled":    report.Canceled,
			"duration_ms": report.Duration.Milliseconds(),
			"endpoint":    cell.Snapshot(),
		})
	}

	if report.Source != discovery.SourceMDNS {
		t.printer.PrintProgress(ui.NewScanProgress(cfg, report))
	}

	elapsed := report.Duration.Round(time.Millisecond).String()
	if report.Found {
		t.printer.PrintSuccess("Device found",
			field("Endpoint", cell.Snapshot()),
			field("Found by", report.Source),
			field("Probed", strconv.Itoa(report.Probed)),
			field("Elapsed", elapsed),
		)
		return nil
	}

	title := "No device found"
	if report.Canceled {
		title = "Scan canceled"
	}
	t.printer.PrintWarning(title,
		field("Endpoint", cell.Snapshot()+" (unchanged)"),
		field("Probed", strconv.Itoa(report.Probed)),
		field("Elapsed", elapsed),
	)
	return nil
}

var browseTimeout time.Duration

// browseCmd lists mDNS HTTP advertisements
var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List HTTP services advertised over mDNS",
	Long: `List _http._tcp services advertised over mDNS on the local network.

Boards that run an mDNS responder show up here without a sweep. The list is
informational; use 'espctl scan --mdns' to confirm a candidate and remember it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hinter := discovery.NewMDNSHinter()
		hinter.Timeout = browseTimeout

		devices, err := hinter.Browse(cmd.Context())
		if err != nil {
			return fmt.Errorf("mDNS browse failed: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), devices)
		}

		printer := ui.NewPrinter(cmd.OutOrStdout())
		if len(devices) == 0 {
			printer.PrintWarning("No services advertised",
				field("Service", discovery.ServiceType),
				field("Waited", browseTimeout.String()),
			)
			return nil
		}
		printer.Printf("Found %d service(s):\n\n", len(devices))
		for i, d := range devices {
			printer.Printf("%d. %s\n", i+1, d.String())
			printer.Printf("   URL:      %s\n", d.BaseURL())
			if len(d.Metadata) > 0 {
				printer.Printf("   Metadata: %v\n", d.Metadata)
			}
			printer.Newline()
		}
		return nil
	},
}

func init() {
	browseCmd.Flags().DurationVar(&browseTimeout, "timeout", discovery.DefaultBrowseTimeout, "How long to listen for advertisements")
}

// ledCmd groups LED commands
var ledCmd = &cobra.Command{
	Use:   "led",
	Short: "Read or toggle the board's LEDs",
}

var ledWatchInterval time.Duration

var ledGetCmd = &cobra.Command{
	Use:     "get <id>",
	Short:   "Show the state of LED 1 or 2",
	Args:    cobra.ExactArgs(1),
	Example: `  espctl led get 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLED(cmd, args[0], false)
	},
}

var ledToggleCmd = &cobra.Command{
	Use:     "toggle <id>",
	Short:   "Toggle LED 1 or 2",
	Args:    cobra.ExactArgs(1),
	Example: `  espctl led toggle 2 --device 192.168.0.37`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLED(cmd, args[0], true)
	},
}

var ledWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print both LEDs every second until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runLEDWatch,
}

func init() {
	ledWatchCmd.Flags().DurationVar(&ledWatchInterval, "interval", time.Second, "Refresh interval")

	ledCmd.AddCommand(ledGetCmd)
	ledCmd.AddCommand(ledToggleCmd)
	ledCmd.AddCommand(ledWatchCmd)
}

func parseLEDID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid LED id %q", raw)
	}
	if err := deviceapi.ValidateLEDID(id); err != nil {
		return 0, err
	}
	return id, nil
}

func renderLED(state *deviceapi.LEDState) string {
	if state.On() {
		return ui.StepCompleteStyle.Render("on")
	}
	return ui.StepPendingStyle.Render("off")
}

func runLED(cmd *cobra.Command, rawID string, toggle bool) error {
	id, err := parseLEDID(rawID)
	if err != nil {
		return err
	}
	t, err := openTarget(cmd)
	if err != nil {
		return err
	}

	var state *deviceapi.LEDState
	if toggle {
		state, err = t.client.ToggleLED(cmd.Context(), id)
	} else {
		state, err = t.client.GetLED(cmd.Context(), id)
	}
	if err != nil {
		return t.deviceError(fmt.Sprintf("LED %d", id), err)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), state)
	}
	t.printer.Printf("LED %d: %s\n", id, renderLED(state))
	return nil
}

func runLEDWatch(cmd *cobra.Command, args []string) error {
	t, err := openTarget(cmd)
	if err != nil {
		return err
	}
	if ledWatchInterval <= 0 {
		ledWatchInterval = time.Second
	}

	ctx := cmd.Context()
	ticker := time.NewTicker(ledWatchInterval)
	defer ticker.Stop()

	for {
		line := time.Now().Format("15:04:05")
		for _, id := range []int{deviceapi.LEDOne, deviceapi.LEDTwo} {
			state, err := t.client.GetLED(ctx, id)
			switch {
			case errors.Is(ctx.Err(), context.Canceled):
				return nil
			case err != nil:
				line += fmt.Sprintf("  LED %d: %s", id, ui.ErrorMessageStyle.Render(deviceapi.GetShortErrorMessage(err)))
			default:
				line += fmt.Sprintf("  LED %d: %s", id, renderLED(state))
			}
		}
		t.printer.Println(line)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// wifiCmd groups station WiFi commands
var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Show or change the board's station WiFi credentials",
}

var (
	showPassword bool
	assumeYes    bool
	noVerify     bool
)

var wifiShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored SSID and password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd)
		if err != nil {
			return err
		}
		creds, err := t.client.GetNetwork(cmd.Context())
		if err != nil {
			return t.deviceError("Read WiFi settings", err)
		}

		password := creds.MaskedPassword()
		if showPassword {
			password = creds.Password
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), deviceapi.NetworkCredentials{SSID: creds.SSID, Password: password})
		}
		t.printer.PrintSuccess("WiFi settings",
			field("SSID", creds.SSID),
			field("Password", password),
			field("Device", t.cell.Snapshot()),
		)
		return nil
	},
}

var wifiSetCmd = &cobra.Command{
	Use:   "set <ssid> [password]",
	Short: "Store new station credentials on the board",
	Long: `Store new station credentials on the board.

The SSID must be 1-32 bytes. The password is empty for an open network or
8-64 characters. The values are read back afterwards to check the SSID; on
a mismatch the previously stored network is written again. The credentials
are never written to the espctl config file.`,
	Example: `  espctl wifi set HomeNetwork 's3cret-passphrase'
  espctl wifi set CafeOpen --yes`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWiFiSet,
}

func init() {
	wifiShowCmd.Flags().BoolVar(&showPassword, "show-password", false, "Print the password in clear text")
	wifiSetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	wifiSetCmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip reading the credentials back")

	wifiCmd.AddCommand(wifiShowCmd)
	wifiCmd.AddCommand(wifiSetCmd)
}

func runWiFiSet(cmd *cobra.Command, args []string) error {
	creds := &deviceapi.NetworkCredentials{SSID: args[0]}
	if len(args) > 1 {
		creds.Password = args[1]
	}
	if errs := deviceapi.ValidateNetworkCredentials(creds); len(errs) > 0 {
		return errors.Join(errs...)
	}

	t, err := openTarget(cmd)
	if err != nil {
		return err
	}
	if !assumeYes && !ui.WiFiChangeConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), creds.SSID) {
		return nil
	}

	verified := "skipped"
	if noVerify {
		if err := t.client.SetNetwork(cmd.Context(), creds); err != nil {
			return t.deviceError("Update WiFi settings", err)
		}
	} else {
		result := t.client.ChangeNetwork(cmd.Context(), creds)
		if !result.Success {
			title := "Update WiFi settings"
			if result.RolledBack {
				title = "WiFi settings not kept, previous network restored"
			}
			return t.deviceError(title, result.Error)
		}
		verified = "yes"
	}

	t.printer.PrintSuccess("WiFi settings updated",
		field("SSID", creds.SSID),
		field("Password", creds.MaskedPassword()),
		field("Verified", verified),
	)
	return nil
}

// statusCmd reports what the board says about itself
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the board's address, firmware build and OTA status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

type statusView struct {
	Endpoint  string                     `json:"endpoint"`
	DeviceIP  string                     `json:"device_ip"`
	Firmware  deviceapi.FirmwareIdentity `json:"firmware"`
	OTAStatus string                     `json:"ota_status"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	t, err := openTarget(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ip, err := t.client.GetIPAddr(ctx)
	if err != nil {
		return t.deviceError("Read device address", err)
	}
	ota, err := t.client.OTAStatus(ctx)
	if err != nil {
		return t.deviceError("Read OTA status", err)
	}

	view := statusView{
		Endpoint:  t.cell.Snapshot(),
		DeviceIP:  ip.IP,
		Firmware:  ota.Firmware(),
		OTAStatus: ota.Status().String(),
	}
	if !view.Firmware.IsZero() {
		t.registry.RecordFirmware(view.Firmware.CompileDate, view.Firmware.CompileTime)
		t.save()
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), view)
	}
	t.printer.PrintSuccess("Device status",
		field("Endpoint", view.Endpoint),
		field("Device IP", view.DeviceIP),
		field("Firmware", view.Firmware.String()),
		field("OTA status", view.OTAStatus),
	)
	return nil
}

var pingCount int

// pingCmd checks ICMP reachability of the resolved device
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check ICMP reachability of the device",
	Long: `Send ICMP echo requests to the device's address.

Useful when HTTP calls fail: a board that answers ping but not HTTP is up
but not serving, one that answers neither is off the network.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd)
		if err != nil {
			return err
		}
		summary, err := discovery.Ping(cmd.Context(), t.cell.Host(), pingCount)
		if err != nil {
			return fmt.Errorf("ping %s failed: %w", t.cell.Host(), err)
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), summary)
		}

		details := []ui.Field{
			field("Address", summary.Address),
			field("Received", fmt.Sprintf("%d/%d", summary.Received, summary.Attempts)),
		}
		if summary.Reachable {
			details = append(details, field("Avg RTT", summary.AvgRTT.Round(time.Microsecond).String()))
			t.printer.PrintSuccess("Device reachable", details...)
			return nil
		}
		t.printer.PrintWarning("No echo replies", details...)
		return nil
	},
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 4, "Number of echo requests")
}

// configCmd groups config file commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the espctl config file",
}

var forceInit bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the config file location and effective contents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		registry, err := loadRegistry()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		data, err := yaml.Marshal(registry)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", path)
		_, err = out.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file holding the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.CreateDefaultConfig(forceInit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

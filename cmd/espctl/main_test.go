package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/espctl/espctl/internal/config"
	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/discovery"
	"github.com/espctl/espctl/internal/ota"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestResolvePrefix(t *testing.T) {
	detected := func() (string, error) { return "10.1.2", nil }
	failing := func() (string, error) { return "", discovery.ErrNoInterface }

	tests := []struct {
		name       string
		flag       string
		configured string
		detect     func() (string, error)
		want       string
		wantErr    bool
	}{
		{name: "flag wins", flag: "192.168.1", configured: "10.0.0", detect: detected, want: "192.168.1"},
		{name: "flag as cidr", flag: "192.168.4.0/24", detect: detected, want: "192.168.4"},
		{name: "configured", configured: "10.0.0", detect: detected, want: "10.0.0"},
		{name: "detected", detect: detected, want: "10.1.2"},
		{name: "detection fails", detect: failing, want: discovery.DefaultPrefix},
		{name: "invalid flag", flag: "not-a-subnet", detect: detected, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePrefix(tt.flag, tt.configured, tt.detect)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("resolvePrefix() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolvePrefix() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolvePrefix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLEDID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "1", want: 1},
		{raw: "2", want: 2},
		{raw: "0", wantErr: true},
		{raw: "3", wantErr: true},
		{raw: "one", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseLEDID(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLEDID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLEDID(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLEDRejectsUnknownIDBeforeResolving(t *testing.T) {
	_, err := execute(t, "led", "get", "3")
	if err == nil {
		t.Fatal("expected an error for LED 3")
	}
	if !deviceapi.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestWiFiSetValidatesBeforeResolving(t *testing.T) {
	_, err := execute(t, "wifi", "set", strings.Repeat("s", deviceapi.MaxSSIDLength+1), "short")
	if err == nil {
		t.Fatal("expected a validation error")
	}
	for _, want := range []string{"ssid", "password"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "espctl", "config.yaml")

	out, err := execute(t, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output %q does not name %s", out, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "probe_timeout_ms: 400") {
		t.Errorf("config file lacks defaults:\n%s", data)
	}

	if _, err := execute(t, "config", "init"); err == nil {
		t.Error("expected an error when the file already exists")
	}

	forceInit = false
	if _, err := execute(t, "config", "init", "--force"); err != nil {
		t.Errorf("config init --force error = %v", err)
	}
	forceInit = false
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	versionJSON = false
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, `"version"`) {
		t.Errorf("output is not version JSON: %s", out)
	}
}

func TestOTARequiresFile(t *testing.T) {
	_, err := execute(t, "ota", filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Fatal("expected an error for a missing image")
	}
	if !errors.Is(err, ota.ErrNoFile) {
		t.Errorf("expected ErrNoFile, got %v", err)
	}
}

// scriptedProber confirms only the listed addresses and records every probe
type scriptedProber struct {
	mu      sync.Mutex
	confirm map[string]bool
	seen    []string
}

func (p *scriptedProber) Probe(ctx context.Context, address string) discovery.ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, address)
	return discovery.ProbeResult{Address: address, Confirmed: p.confirm[address]}
}

// useRemembered points the CLI at a registry remembering endpoint and at
// prober, and routes config writes to a temp dir.
func useRemembered(t *testing.T, endpointURL string, prober discovery.Prober) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	registry := config.NewRegistry()
	registry.RecordEndpoint(endpointURL)

	oldLoad, oldProber := loadRegistry, newProber
	loadRegistry = func() (*config.Registry, error) { return registry, nil }
	newProber = func(time.Duration) discovery.Prober { return prober }
	t.Cleanup(func() {
		loadRegistry, newProber = oldLoad, oldProber
		subnetFlag, deviceFlag, rescan = "", "", false
	})
}

func TestRememberedEndpointIsUsedWhenItAnswers(t *testing.T) {
	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"state":"on"}`))
	}))
	t.Cleanup(device.Close)

	address := strings.TrimPrefix(device.URL, "http://")
	prober := &scriptedProber{confirm: map[string]bool{address: true}}
	useRemembered(t, device.URL, prober)

	out, err := execute(t, "led", "get", "1", "--subnet", "10.9.8")
	if err != nil {
		t.Fatalf("led get error = %v\n%s", err, out)
	}
	if strings.Contains(out, "Looking for the device") {
		t.Errorf("scanned although the remembered endpoint answered:\n%s", out)
	}
	if !strings.Contains(out, "LED 1:") {
		t.Errorf("output = %q, want the LED state", out)
	}
	if len(prober.seen) != 1 || prober.seen[0] != address {
		t.Errorf("probes = %v, want only %s", prober.seen, address)
	}
}

func TestStaleRememberedEndpointTriggersScan(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	staleURL := dead.URL
	dead.Close()

	prober := &scriptedProber{}
	useRemembered(t, staleURL, prober)

	out, err := execute(t, "led", "get", "1", "--subnet", "10.9.8")
	if err == nil {
		t.Fatal("expected the LED call to fail against the stale endpoint")
	}
	if !strings.Contains(out, "Looking for the device") {
		t.Errorf("no scan after the remembered endpoint failed:\n%s", out)
	}
	if len(prober.seen) != 1+254 {
		t.Fatalf("saw %d probes, want the remembered check plus a full sweep", len(prober.seen))
	}
	if prober.seen[0] != strings.TrimPrefix(staleURL, "http://") {
		t.Errorf("first probe = %s, want the remembered endpoint", prober.seen[0])
	}
	if !strings.HasPrefix(prober.seen[1], "10.9.8.") {
		t.Errorf("sweep probed %s, want the --subnet prefix", prober.seen[1])
	}
}

func TestOTAHelpDescribesPolling(t *testing.T) {
	if !strings.Contains(otaCmd.Long, "after every chunk") {
		t.Errorf("ota help does not describe per-chunk polling:\n%s", otaCmd.Long)
	}
	if strings.Contains(otaCmd.Long, "10%") {
		t.Errorf("ota help still claims decile polling:\n%s", otaCmd.Long)
	}
}

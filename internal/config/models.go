package config

import (
	"fmt"
	"time"
)

// Defaults applied to missing preferences
const (
	DefaultEndpoint       = "http://192.168.0.1"
	DefaultProbeTimeoutMS = 400
	DefaultBatchSize      = 50
	DefaultRangeStart     = 1
	DefaultRangeEnd       = 254
	DefaultPanelAddr      = "127.0.0.1:8088"
)

// Registry represents the entire user configuration file.
// It stores scan preferences and what was last learned about the device.
type Registry struct {
	Version     int          `yaml:"version"`
	Preferences *Preferences `yaml:"preferences,omitempty"`
	Device      *Device      `yaml:"device,omitempty"`
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	// Subnet is the /24 prefix to sweep; empty means detect from the host
	Subnet string `yaml:"subnet,omitempty"`

	// DefaultEndpoint is used until a scan succeeds
	DefaultEndpoint string `yaml:"default_endpoint"`

	ProbeTimeoutMS int  `yaml:"probe_timeout_ms"`
	BatchSize      int  `yaml:"batch_size"`
	RangeStart     int  `yaml:"range_start"`
	RangeEnd       int  `yaml:"range_end"`
	PreferLowest   bool `yaml:"prefer_lowest"`

	// MDNSHint tries mDNS advertisements before sweeping
	MDNSHint bool `yaml:"mdns_hint"`

	// PanelAddr is the listen address of `espctl serve`
	PanelAddr string `yaml:"panel_addr"`
}

// Device records what was last learned about the device.
// WiFi credentials are never stored here.
type Device struct {
	LastEndpoint string          `yaml:"last_endpoint,omitempty"`
	LastSeen     time.Time       `yaml:"last_seen,omitempty"`
	Firmware     *FirmwareRecord `yaml:"firmware,omitempty"`
}

// FirmwareRecord is the last firmware identity reported by /OTAstatus.
type FirmwareRecord struct {
	CompileDate string    `yaml:"compile_date"`
	CompileTime string    `yaml:"compile_time"`
	SeenAt      time.Time `yaml:"seen_at"`
}

// NewPreferences returns preferences with every default applied.
func NewPreferences() *Preferences {
	return &Preferences{
		DefaultEndpoint: DefaultEndpoint,
		ProbeTimeoutMS:  DefaultProbeTimeoutMS,
		BatchSize:       DefaultBatchSize,
		RangeStart:      DefaultRangeStart,
		RangeEnd:        DefaultRangeEnd,
		PanelAddr:       DefaultPanelAddr,
	}
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Preferences: NewPreferences(),
	}
}

// applyDefaults fills zero values left by a partial config file.
func (p *Preferences) applyDefaults() {
	if p.DefaultEndpoint == "" {
		p.DefaultEndpoint = DefaultEndpoint
	}
	if p.ProbeTimeoutMS == 0 {
		p.ProbeTimeoutMS = DefaultProbeTimeoutMS
	}
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.RangeStart == 0 {
		p.RangeStart = DefaultRangeStart
	}
	if p.RangeEnd == 0 {
		p.RangeEnd = DefaultRangeEnd
	}
	if p.PanelAddr == "" {
		p.PanelAddr = DefaultPanelAddr
	}
}

// Validate checks the numeric preferences.
func (p *Preferences) Validate() error {
	if p.ProbeTimeoutMS < 1 {
		return fmt.Errorf("probe_timeout_ms must be positive, got %d", p.ProbeTimeoutMS)
	}
	if p.BatchSize < 1 || p.BatchSize > DefaultRangeEnd {
		return fmt.Errorf("batch_size must be between 1 and %d, got %d", DefaultRangeEnd, p.BatchSize)
	}
	if p.RangeStart < DefaultRangeStart || p.RangeEnd > DefaultRangeEnd || p.RangeStart > p.RangeEnd {
		return fmt.Errorf("range %d-%d must lie within %d-%d", p.RangeStart, p.RangeEnd, DefaultRangeStart, DefaultRangeEnd)
	}
	return nil
}

// ProbeTimeout returns the probe timeout as a duration
func (p *Preferences) ProbeTimeout() time.Duration {
	return time.Duration(p.ProbeTimeoutMS) * time.Millisecond
}

// EnsureDevice ensures the device section exists and returns it.
func (r *Registry) EnsureDevice() *Device {
	if r.Device == nil {
		r.Device = &Device{}
	}
	return r.Device
}

// RecordEndpoint stores the endpoint a scan resolved.
func (r *Registry) RecordEndpoint(endpointURL string) {
	device := r.EnsureDevice()
	device.LastEndpoint = endpointURL
	device.LastSeen = time.Now()
}

// RecordFirmware stores the firmware identity last reported by the device.
func (r *Registry) RecordFirmware(compileDate, compileTime string) {
	device := r.EnsureDevice()
	device.Firmware = &FirmwareRecord{
		CompileDate: compileDate,
		CompileTime: compileTime,
		SeenAt:      time.Now(),
	}
}

// StartEndpoint returns the endpoint to use before any scan: the last
// resolved one if known, the configured default otherwise.
func (r *Registry) StartEndpoint() string {
	if r.Device != nil && r.Device.LastEndpoint != "" {
		return r.Device.LastEndpoint
	}
	if r.Preferences != nil && r.Preferences.DefaultEndpoint != "" {
		return r.Preferences.DefaultEndpoint
	}
	return DefaultEndpoint
}

package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/espctl/espctl/internal/logging"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type the device's web server advertises
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultBrowseTimeout is the default mDNS browse window
	DefaultBrowseTimeout = 2 * time.Second

	// DefaultPort is the default HTTP port of the device
	DefaultPort = 80
)

// MDNSHinter browses for HTTP services and offers their addresses as scan
// candidates. Any host on the network may advertise _http._tcp, so results
// are hints only.
type MDNSHinter struct {
	// Timeout is the maximum browse window
	Timeout time.Duration
}

// NewMDNSHinter creates a hinter with default settings
func NewMDNSHinter() *MDNSHinter {
	return &MDNSHinter{
		Timeout: DefaultBrowseTimeout,
	}
}

// Browse collects every _http._tcp advertisement seen before the timeout
// or ctx ends.
func (h *MDNSHinter) Browse(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	found := &deviceCollector{}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		defer close(done)
		for entry := range entries {
			found.add(parseServiceEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// the resolver closes entries once ctx is done
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	// the collector may still be running after the fallback
	return found.snapshot(), nil
}

// deviceCollector gathers advertisements while Browse may already be
// returning.
type deviceCollector struct {
	mu      sync.Mutex
	devices []*Device
}

func (c *deviceCollector) add(d *Device) {
	if d == nil {
		return
	}
	c.mu.Lock()
	c.devices = append(c.devices, d)
	c.mu.Unlock()
}

// snapshot returns a copy; it is never nil
func (c *deviceCollector) snapshot() []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Candidates returns the advertised IPv4 addresses that fall inside prefix,
// in the order they were received and without duplicates.
func (h *MDNSHinter) Candidates(ctx context.Context, prefix string) ([]string, error) {
	devices, err := h.Browse(ctx)
	if err != nil {
		return nil, err
	}
	out := candidatesInPrefix(devices, prefix)
	logging.Debug("mDNS browse finished",
		zap.Int("advertisements", len(devices)),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

func candidatesInPrefix(devices []*Device, prefix string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		if !d.InPrefix(prefix) || seen[d.IP] {
			continue
		}
		seen[d.IP] = true
		out = append(out, d.IP)
	}
	return out
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if the entry carries no hostname or no address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	hostname := entry.HostName
	if hostname == "" {
		return nil
	}

	// Get IP address (prefer IPv4)
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}

	// Fallback to IPv6 if no IPv4
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}

	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Device{
		Hostname:     hostname,
		Instance:     entry.Instance,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

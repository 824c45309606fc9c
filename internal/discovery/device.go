package discovery

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Device is one _http._tcp advertisement seen on the local network. Any
// host may advertise the service, so a Device is only a candidate until a
// probe confirms it.
type Device struct {
	Hostname string // e.g. "esp32-4a1b2c.local."
	Instance string
	IP       string // IPv4 when the advertisement carried one
	Port     int

	// Metadata holds the TXT record as key/value pairs
	Metadata map[string]string

	DiscoveredAt time.Time
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s) at %s:%d", d.Instance, d.Hostname, d.IP, d.Port)
}

// BaseURL returns the advertised HTTP base URL; port 80 is left implicit.
func (d *Device) BaseURL() string {
	if d.Port == DefaultPort {
		return "http://" + d.IP
	}
	return fmt.Sprintf("http://%s:%d", d.IP, d.Port)
}

// IPv4 reports whether the advertised address is IPv4
func (d *Device) IPv4() bool {
	ip := net.ParseIP(d.IP)
	return ip != nil && ip.To4() != nil
}

// InPrefix reports whether the device is an IPv4 host of the /24 prefix
func (d *Device) InPrefix(prefix string) bool {
	return d.IPv4() && strings.HasPrefix(d.IP, prefix+".")
}

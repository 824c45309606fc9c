package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultPrefix is used when no prefix is configured or detectable
	DefaultPrefix = "192.168.0"

	// MinHost and MaxHost bound the usable host suffixes of a /24
	MinHost = 1
	MaxHost = 254
)

// ErrNoInterface is returned by DetectPrefix when the host has no usable IPv4 address
var ErrNoInterface = errors.New("no non-loopback IPv4 interface found")

// Target is one candidate address: a /24 prefix plus a host suffix.
type Target struct {
	Prefix string
	Host   int
}

// Address returns the dotted IPv4 address of the target
func (t Target) Address() string {
	return t.Prefix + "." + strconv.Itoa(t.Host)
}

// Targets expands prefix over the inclusive host range [start, end].
func Targets(prefix string, start, end int) []Target {
	if end < start {
		return nil
	}
	out := make([]Target, 0, end-start+1)
	for h := start; h <= end; h++ {
		out = append(out, Target{Prefix: prefix, Host: h})
	}
	return out
}

// ParsePrefix normalizes a subnet given as "192.168.0", "192.168.0.0/24" or
// any address inside the /24 ("192.168.0.1") to its first three octets.
func ParsePrefix(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty subnet prefix")
	}

	if strings.Contains(s, "/") {
		ip, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return "", fmt.Errorf("invalid subnet %q: %w", raw, err)
		}
		if ip.To4() == nil {
			return "", fmt.Errorf("invalid subnet %q: not IPv4", raw)
		}
		if ones, _ := ipnet.Mask.Size(); ones > 24 {
			return "", fmt.Errorf("invalid subnet %q: mask must be /24 or wider", raw)
		}
		s = ip.String()
	}

	parts := strings.Split(s, ".")
	switch len(parts) {
	case 3:
		parts = append(parts, "0")
	case 4:
	default:
		return "", fmt.Errorf("invalid subnet prefix %q", raw)
	}

	ip := net.ParseIP(strings.Join(parts, "."))
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("invalid subnet prefix %q", raw)
	}
	return strings.Join(parts[:3], "."), nil
}

// DetectPrefix returns the /24 prefix of the first non-loopback IPv4
// address configured on this host.
func DetectPrefix() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to list interface addresses: %w", err)
	}
	return prefixFromAddrs(addrs)
}

func prefixFromAddrs(addrs []net.Addr) (string, error) {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2]), nil
		}
	}
	return "", ErrNoInterface
}

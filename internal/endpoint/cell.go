// Package endpoint holds the device base URL shared by every device client.
//
// A Cell is created once at startup with a default value and handed to the
// scanner (the only writer) and to the API clients (readers). Readers take a
// Snapshot at the start of each operation and build every URL of that
// operation from it, so a concurrent rewrite never splits one operation
// across two devices.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// DefaultURL is the address the device uses as a soft access point.
const DefaultURL = "http://192.168.0.1"

// ErrInvalid is returned for values that are not http://<ipv4>[:port].
var ErrInvalid = errors.New("invalid device endpoint")

// Listener is called after the value changed.
type Listener func(oldURL, newURL string)

// Cell is the owned, mutable device base URL.
type Cell struct {
	mu        sync.RWMutex
	value     string
	writes    int
	listeners []Listener
}

// New creates a Cell holding def. An empty def selects DefaultURL.
func New(def string) (*Cell, error) {
	if def == "" {
		def = DefaultURL
	}
	normalized, err := Normalize(def)
	if err != nil {
		return nil, err
	}
	return &Cell{value: normalized}, nil
}

// MustNew is New for compile-time constants.
func MustNew(def string) *Cell {
	c, err := New(def)
	if err != nil {
		panic(err)
	}
	return c
}

// Snapshot returns the current base URL.
func (c *Cell) Snapshot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Host returns the host part of the current base URL, without scheme or port.
func (c *Cell) Host() string {
	u, err := url.Parse(c.Snapshot())
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Writes reports how many times the value has been replaced.
func (c *Cell) Writes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.writes
}

// Set replaces the base URL. Invalid values leave the cell untouched.
// Setting the current value again is a no-op and reports changed=false.
func (c *Cell) Set(raw string) (bool, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	old := c.value
	if old == normalized {
		c.mu.Unlock()
		return false, nil
	}
	c.value = normalized
	c.writes++
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(old, normalized)
	}
	return true, nil
}

// SetHost is Set for a bare address such as "192.168.0.37".
func (c *Cell) SetHost(host string) (bool, error) {
	return c.Set("http://" + host)
}

// Subscribe registers l to run after every change.
func (c *Cell) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Normalize converts raw into the canonical "http://<ipv4>[:port]" form.
// A bare address is accepted and gets the http scheme. Paths, queries and
// the default port are dropped.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" {
		return "", fmt.Errorf("%w: scheme %q (only http is supported)", ErrInvalid, u.Scheme)
	}

	host := u.Hostname()
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalid, host)
	}
	if ip.To4().Equal(net.IPv4zero) {
		return "", fmt.Errorf("%w: 0.0.0.0 is not a device address", ErrInvalid)
	}

	port := u.Port()
	if port == "" || port == "80" {
		return "http://" + ip.To4().String(), nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%w: port %q", ErrInvalid, port)
	}
	return fmt.Sprintf("http://%s:%d", ip.To4().String(), p), nil
}

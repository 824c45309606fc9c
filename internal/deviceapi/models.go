package deviceapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NullAddress is what the device reports before it has an address.
const NullAddress = "0.0.0.0"

// LED ids wired on the board.
const (
	LEDOne = 1
	LEDTwo = 2
)

// LEDState is the body of GET /api/leds/{id} and POST /api/leds/{id}/toggle.
type LEDState struct {
	ID    int    `json:"id,omitempty"`
	State string `json:"state"` // "on" or "off"
}

// On reports whether the LED is lit.
func (s *LEDState) On() bool {
	return s.State == "on"
}

// IPAddr is the body of GET /api/config/ip_addr.
type IPAddr struct {
	IP string `json:"ip"`
}

// Assigned reports whether the device claims a usable address.
func (a *IPAddr) Assigned() bool {
	ip := strings.TrimSpace(a.IP)
	return ip != "" && ip != NullAddress
}

// NetworkCredentials is the station-mode WiFi configuration of the device.
// It is never written to local storage.
type NetworkCredentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// MaskedPassword returns the password with every character replaced.
func (n *NetworkCredentials) MaskedPassword() string {
	return strings.Repeat("*", len(n.Password))
}

// StatusCode is the device-side OTA state as reported by /OTAstatus.
type StatusCode int

const (
	// StatusPending covers every value other than 1 and -1, absence included.
	StatusPending StatusCode = 0
	// StatusSuccess means the image was flashed; the device reboots next.
	StatusSuccess StatusCode = 1
	// StatusError means the device rejected or failed to write the image.
	StatusError StatusCode = -1
)

// String returns the name used in logs and events
func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return "PENDING"
	}
}

// OTAStatus is the body of POST /OTAstatus.
type OTAStatus struct {
	RawStatus   json.RawMessage `json:"ota_update_status,omitempty"`
	CompileDate string          `json:"compile_date"`
	CompileTime string          `json:"compile_time"`
}

// Status maps the raw status field onto StatusCode.
func (s *OTAStatus) Status() StatusCode {
	raw := bytes.TrimSpace(s.RawStatus)
	if len(raw) == 0 {
		return StatusPending
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return StatusPending
	}
	switch n {
	case 1:
		return StatusSuccess
	case -1:
		return StatusError
	default:
		return StatusPending
	}
}

// Firmware returns the running firmware identity.
func (s *OTAStatus) Firmware() FirmwareIdentity {
	return FirmwareIdentity{CompileDate: s.CompileDate, CompileTime: s.CompileTime}
}

// FirmwareIdentity is the build stamp the running firmware reports.
type FirmwareIdentity struct {
	CompileDate string `json:"compile_date"`
	CompileTime string `json:"compile_time"`
}

// IsZero reports whether no identity has been seen yet.
func (f FirmwareIdentity) IsZero() bool {
	return f.CompileDate == "" && f.CompileTime == ""
}

// String renders the identity as "<date> - <time>".
func (f FirmwareIdentity) String() string {
	if f.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%s - %s", f.CompileDate, f.CompileTime)
}

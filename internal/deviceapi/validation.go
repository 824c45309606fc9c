package deviceapi

import (
	"fmt"
	"strings"
)

// Device-side storage limits for station credentials.
const (
	MaxSSIDLength     = 32
	MinPasswordLength = 8
	MaxPasswordLength = 64
)

// ValidateLEDID validates an LED index. The board has LEDs 1 and 2.
func ValidateLEDID(id int) error {
	if id != LEDOne && id != LEDTwo {
		return NewValidationError(fmt.Sprintf("LED id must be %d or %d, got %d", LEDOne, LEDTwo, id))
	}
	return nil
}

// ValidateWiFiSSID validates a WiFi SSID.
// SSIDs must be non-empty and fit the device's 32 byte field.
func ValidateWiFiSSID(ssid string) error {
	if strings.TrimSpace(ssid) == "" {
		return NewValidationError("WiFi SSID cannot be empty")
	}
	if len(ssid) > MaxSSIDLength {
		return NewValidationError(fmt.Sprintf("WiFi SSID too long (max %d bytes): %d bytes", MaxSSIDLength, len(ssid)))
	}
	return nil
}

// ValidateWiFiPassword validates a WiFi password.
// Empty means an open network; otherwise WPA2 rules apply (8-64 bytes,
// 64 being a raw hex PSK).
func ValidateWiFiPassword(password string) error {
	if password == "" {
		return nil
	}
	if len(password) < MinPasswordLength {
		return NewValidationError(fmt.Sprintf("WiFi password too short (min %d chars): %d chars", MinPasswordLength, len(password)))
	}
	if len(password) > MaxPasswordLength {
		return NewValidationError(fmt.Sprintf("WiFi password too long (max %d chars): %d chars", MaxPasswordLength, len(password)))
	}
	return nil
}

// ValidateNetworkCredentials validates a complete credential pair.
// Returns a slice of validation errors (empty if valid).
func ValidateNetworkCredentials(creds *NetworkCredentials) []error {
	var errs []error

	if err := ValidateWiFiSSID(creds.SSID); err != nil {
		errs = append(errs, fmt.Errorf("ssid: %w", err))
	}
	if err := ValidateWiFiPassword(creds.Password); err != nil {
		errs = append(errs, fmt.Errorf("password: %w", err))
	}

	return errs
}

package deviceapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType is the category of a device API failure
type ErrorType int

const (
	// ErrTypeNetwork covers transport failures that are not classified further
	ErrTypeNetwork ErrorType = iota
	// ErrTypeHTTP is a non-2xx answer from the device
	ErrTypeHTTP
	// ErrTypeParse is a body the device API would not send
	ErrTypeParse
	// ErrTypeValidation is input rejected before any request
	ErrTypeValidation
	ErrTypeTimeout
	ErrTypeConnectionRefused
	ErrTypeDNS
	// ErrTypeOTARejected is the device reporting status -1 for an update
	ErrTypeOTARejected
	ErrTypeUnknown
)

var errorTypeNames = map[ErrorType]string{
	ErrTypeNetwork:           "Network Error",
	ErrTypeHTTP:              "HTTP Error",
	ErrTypeParse:             "Parse Error",
	ErrTypeValidation:        "Validation Error",
	ErrTypeTimeout:           "Timeout",
	ErrTypeConnectionRefused: "Connection Refused",
	ErrTypeDNS:               "DNS Error",
	ErrTypeOTARejected:       "OTA Rejected",
	ErrTypeUnknown:           "Unknown Error",
}

func (et ErrorType) String() string {
	if name, ok := errorTypeNames[et]; ok {
		return name
	}
	return fmt.Sprintf("ErrorType(%d)", et)
}

// NetworkErrorSubtype narrows ErrTypeNetwork and its relatives
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
)

// DeviceError is returned by every Client call that fails
type DeviceError struct {
	Type           ErrorType
	Message        string
	StatusCode     int // HTTP status, ErrTypeHTTP only
	Err            error
	NetworkSubtype NetworkErrorSubtype

	// DeviceIP is the host the failed request went to, if known
	DeviceIP string

	// Retryable reports whether repeating the same call can succeed
	Retryable bool
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// errnoClasses maps dial errnos onto error categories
var errnoClasses = []struct {
	errno   syscall.Errno
	typ     ErrorType
	subtype NetworkErrorSubtype
	message string
}{
	{syscall.ECONNREFUSED, ErrTypeConnectionRefused, NetworkErrorConnectionRefused, "Device refused connection"},
	{syscall.EHOSTUNREACH, ErrTypeNetwork, NetworkErrorHostUnreachable, "Host unreachable"},
	{syscall.ENETUNREACH, ErrTypeNetwork, NetworkErrorNetworkUnreachable, "Network unreachable"},
}

// ClassifyNetworkError turns a transport error into a DeviceError.
// It returns nil for a nil err.
func ClassifyNetworkError(err error, deviceIP string) *DeviceError {
	if err == nil {
		return nil
	}
	devErr := &DeviceError{
		Type:      ErrTypeNetwork,
		Message:   "Network error occurred",
		Err:       err,
		DeviceIP:  deviceIP,
		Retryable: true,
	}

	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		devErr.Type = ErrTypeTimeout
		devErr.NetworkSubtype = NetworkErrorTimeout
		devErr.Message = "Request timed out"
		return devErr
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		devErr.Type = ErrTypeDNS
		devErr.NetworkSubtype = NetworkErrorDNS
		devErr.Message = fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name)
		devErr.Retryable = false
		return devErr
	}

	for _, class := range errnoClasses {
		if errors.Is(err, class.errno) {
			devErr.Type = class.typ
			devErr.NetworkSubtype = class.subtype
			devErr.Message = class.message
			return devErr
		}
	}
	return devErr
}

// NewNetworkError classifies err and replaces the message with message
func NewNetworkError(message string, err error) *DeviceError {
	if devErr := ClassifyNetworkError(err, ""); devErr != nil {
		devErr.Message = message
		return devErr
	}
	return &DeviceError{Type: ErrTypeNetwork, Message: message, Retryable: true}
}

// NewHTTPError creates an error for a non-2xx answer. Server-side
// failures are retryable.
func NewHTTPError(statusCode int, message string) *DeviceError {
	return &DeviceError{
		Type:       ErrTypeHTTP,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  statusCode >= 500,
	}
}

func NewParseError(message string, err error) *DeviceError {
	return &DeviceError{Type: ErrTypeParse, Message: message, Err: err}
}

func NewValidationError(message string) *DeviceError {
	return &DeviceError{Type: ErrTypeValidation, Message: message}
}

// NewOTARejectedError creates the error for a device-reported update
// failure. Only a new upload can follow it.
func NewOTARejectedError(message string) *DeviceError {
	return &DeviceError{Type: ErrTypeOTARejected, Message: message}
}

func asDeviceError(err error) (*DeviceError, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr, true
	}
	return nil, false
}

func hasType(err error, types ...ErrorType) bool {
	devErr, ok := asDeviceError(err)
	if !ok {
		return false
	}
	for _, t := range types {
		if devErr.Type == t {
			return true
		}
	}
	return false
}

// IsNetworkError reports a transport failure of any kind
func IsNetworkError(err error) bool {
	return hasType(err, ErrTypeNetwork, ErrTypeTimeout, ErrTypeConnectionRefused, ErrTypeDNS)
}

func IsHTTPError(err error) bool {
	return hasType(err, ErrTypeHTTP)
}

func IsParseError(err error) bool {
	return hasType(err, ErrTypeParse)
}

func IsValidationError(err error) bool {
	return hasType(err, ErrTypeValidation)
}

// IsOTARejected reports the device's -1 verdict
func IsOTARejected(err error) bool {
	return hasType(err, ErrTypeOTARejected)
}

// IsRetryable reports whether repeating the failed call can succeed
func IsRetryable(err error) bool {
	devErr, ok := asDeviceError(err)
	return ok && devErr.Retryable
}

var (
	scanTip   = "  • Run 'espctl scan' - the device may have a new address"
	powerTip  = "  • Check that the device is powered on"
	hintTitle = "Troubleshooting:"
)

var hints = map[ErrorType][]string{
	ErrTypeTimeout: {
		"The device did not respond in time.",
		hintTitle,
		powerTip,
		scanTip,
		"  • Move closer to the access point to improve signal strength",
	},
	ErrTypeConnectionRefused: {
		"The device refused the connection.",
		hintTitle,
		"  • The address may belong to another host - run 'espctl scan'",
		"  • The device may still be rebooting after an update",
	},
	ErrTypeDNS: {
		"Could not resolve the device hostname.",
		hintTitle,
		"  • Use the IP address instead of a hostname",
	},
	ErrTypeParse: {
		"Failed to parse the device's response.",
		"The address may belong to a host that is not the device.",
		hintTitle,
		scanTip,
	},
	ErrTypeOTARejected: {
		"The device rejected the firmware image.",
		hintTitle,
		"  • Check that the image was built for this board",
		"  • Start a new upload with 'espctl ota <firmware.bin>'",
	},
}

var networkHints = map[NetworkErrorSubtype][]string{
	NetworkErrorHostUnreachable: {
		"The device is not reachable on the network.",
		hintTitle,
		"  • Check that you're on the same network as the device",
		"  • Try pinging the device: espctl ping",
	},
	NetworkErrorNetworkUnreachable: {
		"Your computer cannot reach the device's network.",
		hintTitle,
		"  • Connect to the same WiFi network as the device",
	},
}

// GetTroubleshootingHint returns multi-line advice for err
func GetTroubleshootingHint(err error) string {
	devErr, ok := asDeviceError(err)
	if !ok {
		return "An unexpected error occurred. Please try again."
	}
	if lines, ok := hints[devErr.Type]; ok {
		return strings.Join(lines, "\n")
	}

	switch devErr.Type {
	case ErrTypeNetwork:
		lines, ok := networkHints[devErr.NetworkSubtype]
		if !ok {
			lines = []string{hintTitle, "  • Check your network connection", powerTip, scanTip}
		}
		return strings.Join(append([]string{"Network communication failed."}, lines...), "\n")
	case ErrTypeHTTP:
		if devErr.StatusCode >= 500 {
			return fmt.Sprintf("The device returned an error (HTTP %d).\n%s\n  • Try rebooting the device\n  • Re-flash the firmware if the error persists",
				devErr.StatusCode, hintTitle)
		}
		return fmt.Sprintf("The device returned HTTP error %d. Check the request parameters.", devErr.StatusCode)
	case ErrTypeValidation:
		return "The values are invalid. Check the error message for details."
	default:
		return "An error occurred. Please check the error message for details."
	}
}

// GetShortErrorMessage returns a one-line message for err
func GetShortErrorMessage(err error) string {
	devErr, ok := asDeviceError(err)
	if !ok {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeTimeout:
		return "Device not responding (timeout)"
	case ErrTypeConnectionRefused:
		return "Device refused connection"
	case ErrTypeDNS:
		return "Cannot resolve device hostname"
	case ErrTypeNetwork:
		switch devErr.NetworkSubtype {
		case NetworkErrorHostUnreachable:
			return "Device unreachable - check network connection"
		case NetworkErrorNetworkUnreachable:
			return "Network unreachable - check WiFi connection"
		}
		return "Network error - check connection"
	case ErrTypeHTTP:
		return fmt.Sprintf("Device error (HTTP %d)", devErr.StatusCode)
	case ErrTypeParse:
		return "Failed to parse device response"
	case ErrTypeOTARejected:
		return "!!! Upload Error !!!"
	}
	return devErr.Message
}

package deviceapi

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
)

func TestClassifyNetworkError_Timeout(t *testing.T) {
	err := &url.Error{
		Op:  "Get",
		URL: "http://192.168.0.37",
		Err: &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &timeoutError{},
		},
	}

	devErr := ClassifyNetworkError(err, "192.168.0.37")

	if devErr == nil {
		t.Fatal("Expected DeviceError, got nil")
	}
	if devErr.Type != ErrTypeTimeout {
		t.Errorf("Expected error type %v, got %v", ErrTypeTimeout, devErr.Type)
	}
	if devErr.NetworkSubtype != NetworkErrorTimeout {
		t.Errorf("Expected network subtype %v, got %v", NetworkErrorTimeout, devErr.NetworkSubtype)
	}
	if !devErr.Retryable {
		t.Error("Expected timeout error to be retryable")
	}
}

func TestClassifyNetworkError_ConnectionRefused(t *testing.T) {
	err := &url.Error{
		Op:  "Get",
		URL: "http://192.168.0.37",
		Err: &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: syscall.ECONNREFUSED,
		},
	}

	devErr := ClassifyNetworkError(err, "192.168.0.37")

	if devErr == nil {
		t.Fatal("Expected DeviceError, got nil")
	}
	if devErr.Type != ErrTypeConnectionRefused {
		t.Errorf("Expected error type %v, got %v", ErrTypeConnectionRefused, devErr.Type)
	}
	if devErr.DeviceIP != "192.168.0.37" {
		t.Errorf("DeviceIP = %q, want 192.168.0.37", devErr.DeviceIP)
	}
}

func TestClassifyNetworkError_DNS(t *testing.T) {
	err := &net.DNSError{
		Err:        "no such host",
		Name:       "esp32.local",
		IsNotFound: true,
	}

	devErr := ClassifyNetworkError(err, "esp32.local")

	if devErr.Type != ErrTypeDNS {
		t.Errorf("Expected error type %v, got %v", ErrTypeDNS, devErr.Type)
	}
	if devErr.Retryable {
		t.Error("Expected DNS error to be non-retryable")
	}
}

func TestClassifyNetworkError_Unreachable(t *testing.T) {
	tests := []struct {
		name    string
		errno   syscall.Errno
		subtype NetworkErrorSubtype
	}{
		{"host unreachable", syscall.EHOSTUNREACH, NetworkErrorHostUnreachable},
		{"network unreachable", syscall.ENETUNREACH, NetworkErrorNetworkUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &url.Error{
				Op:  "Get",
				URL: "http://192.168.0.37",
				Err: &net.OpError{Op: "dial", Net: "tcp", Err: tt.errno},
			}
			devErr := ClassifyNetworkError(err, "192.168.0.37")
			if devErr.Type != ErrTypeNetwork {
				t.Errorf("Type = %v, want %v", devErr.Type, ErrTypeNetwork)
			}
			if devErr.NetworkSubtype != tt.subtype {
				t.Errorf("NetworkSubtype = %v, want %v", devErr.NetworkSubtype, tt.subtype)
			}
		})
	}
}

func TestClassifyNetworkError_Nil(t *testing.T) {
	if ClassifyNetworkError(nil, "") != nil {
		t.Error("ClassifyNetworkError(nil) should return nil")
	}
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("toggle led: %w", NewHTTPError(404, "not found"))

	if !IsHTTPError(wrapped) {
		t.Error("IsHTTPError should match a wrapped DeviceError")
	}
	if IsNetworkError(wrapped) {
		t.Error("IsNetworkError should not match an HTTP error")
	}
	if IsParseError(errors.New("plain")) {
		t.Error("IsParseError should not match a plain error")
	}
	if !IsOTARejected(NewOTARejectedError("status -1")) {
		t.Error("IsOTARejected should match NewOTARejectedError")
	}
	if !IsValidationError(NewValidationError("bad")) {
		t.Error("IsValidationError should match NewValidationError")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"Network error is retryable", &DeviceError{Type: ErrTypeNetwork, Retryable: true}, true},
		{"Validation error is not retryable", NewValidationError("bad ssid"), false},
		{"HTTP 500 error is retryable", NewHTTPError(500, "boom"), true},
		{"HTTP 404 error is not retryable", NewHTTPError(404, "missing"), false},
		{"OTA rejection is not retryable", NewOTARejectedError("status -1"), false},
		{"Unknown error is not retryable", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestGetShortErrorMessage(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedText string
	}{
		{"Timeout error", &DeviceError{Type: ErrTypeTimeout}, "Device not responding (timeout)"},
		{"Connection refused", &DeviceError{Type: ErrTypeConnectionRefused}, "Device refused connection"},
		{"DNS error", &DeviceError{Type: ErrTypeDNS}, "Cannot resolve device hostname"},
		{
			"Host unreachable",
			&DeviceError{Type: ErrTypeNetwork, NetworkSubtype: NetworkErrorHostUnreachable},
			"Device unreachable - check network connection",
		},
		{"HTTP 500", &DeviceError{Type: ErrTypeHTTP, StatusCode: 500}, "Device error (HTTP 500)"},
		{"OTA rejected", NewOTARejectedError("status -1"), "!!! Upload Error !!!"},
		{"Validation error", NewValidationError("LED id must be 1 or 2, got 3"), "LED id must be 1 or 2, got 3"},
		{"Plain error", errors.New("plain"), "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetShortErrorMessage(tt.err)
			if got != tt.expectedText {
				t.Errorf("GetShortErrorMessage() = %q, want %q", got, tt.expectedText)
			}
		})
	}
}

func TestGetTroubleshootingHint(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectedTexts []string
	}{
		{"Timeout error", &DeviceError{Type: ErrTypeTimeout}, []string{"did not respond in time", "espctl scan"}},
		{"Connection refused", &DeviceError{Type: ErrTypeConnectionRefused}, []string{"refused the connection", "rebooting"}},
		{"DNS error", &DeviceError{Type: ErrTypeDNS}, []string{"IP address instead"}},
		{
			"Host unreachable",
			&DeviceError{Type: ErrTypeNetwork, NetworkSubtype: NetworkErrorHostUnreachable},
			[]string{"not reachable", "espctl ping"},
		},
		{"HTTP 500 error", &DeviceError{Type: ErrTypeHTTP, StatusCode: 500}, []string{"HTTP 500", "rebooting the device"}},
		{"Parse error", &DeviceError{Type: ErrTypeParse}, []string{"Failed to parse", "not the device"}},
		{"OTA rejected", NewOTARejectedError("status -1"), []string{"rejected the firmware", "espctl ota"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := GetTroubleshootingHint(tt.err)
			for _, expectedText := range tt.expectedTexts {
				if !strings.Contains(hint, expectedText) {
					t.Errorf("GetTroubleshootingHint() missing expected text %q\nGot: %s", expectedText, hint)
				}
			}
		})
	}
}

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrTypeNetwork, "Network Error"},
		{ErrTypeHTTP, "HTTP Error"},
		{ErrTypeParse, "Parse Error"},
		{ErrTypeValidation, "Validation Error"},
		{ErrTypeTimeout, "Timeout"},
		{ErrTypeConnectionRefused, "Connection Refused"},
		{ErrTypeDNS, "DNS Error"},
		{ErrTypeOTARejected, "OTA Rejected"},
		{ErrTypeUnknown, "Unknown Error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.errorType.String(); got != tt.expected {
				t.Errorf("ErrorType.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// timeoutError is a mock error that implements timeout behavior
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

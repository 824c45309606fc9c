package deviceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/espctl/espctl/internal/endpoint"
	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/version"
	"go.uber.org/zap"
)

// Device API paths
const (
	PathIPAddr    = "/api/config/ip_addr"
	PathNetwork   = "/api/config/network"
	PathLEDFormat = "/api/leds/%d"
	PathLEDToggle = "/api/leds/%d/toggle"
	PathOTAUpdate = "/OTAupdate"
	PathOTAStatus = "/OTAstatus"

	// otaStatusBody is the opaque body the status endpoint expects.
	otaStatusBody = "ota_update_status"
)

const (
	// DefaultTimeout is the default HTTP request timeout for plain calls
	DefaultTimeout = 5 * time.Second

	// maxBodySize bounds how much of a response body is read
	maxBodySize = 64 << 10
)

// Client talks to the device HTTP API. Every call reads the endpoint cell
// once, so a rediscovered address applies from the next call on.
type Client struct {
	// Endpoint holds the device base URL (e.g., "http://192.168.0.37")
	Endpoint *endpoint.Cell

	// HTTPClient is used for request/response calls
	HTTPClient *http.Client

	// UploadClient is used for firmware uploads. It has no overall timeout:
	// an upload runs until it completes or fails.
	UploadClient *http.Client
}

// NewClient creates a new device API client bound to cell
func NewClient(cell *endpoint.Cell) *Client {
	return &Client{
		Endpoint:     cell,
		HTTPClient:   &http.Client{Timeout: DefaultTimeout},
		UploadClient: &http.Client{},
	}
}

// SetTimeout sets the HTTP request timeout for request/response calls
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// BaseURL returns the endpoint snapshot used by the next call
func (c *Client) BaseURL() string {
	return c.Endpoint.Snapshot()
}

// GetIPAddr retrieves the address the device believes it has
func (c *Client) GetIPAddr(ctx context.Context) (*IPAddr, error) {
	var out IPAddr
	if err := c.doJSON(ctx, http.MethodGet, PathIPAddr, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLED retrieves the state of LED id
func (c *Client) GetLED(ctx context.Context, id int) (*LEDState, error) {
	if err := ValidateLEDID(id); err != nil {
		return nil, err
	}
	var out LEDState
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf(PathLEDFormat, id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleLED flips LED id and returns its new state
func (c *Client) ToggleLED(ctx context.Context, id int) (*LEDState, error) {
	if err := ValidateLEDID(id); err != nil {
		return nil, err
	}
	var out LEDState
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf(PathLEDToggle, id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNetwork retrieves the station credentials stored on the device
func (c *Client) GetNetwork(ctx context.Context) (*NetworkCredentials, error) {
	var out NetworkCredentials
	if err := c.doJSON(ctx, http.MethodGet, PathNetwork, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetNetwork stores new station credentials on the device.
// Invalid credentials are rejected before any request is made.
func (c *Client) SetNetwork(ctx context.Context, creds *NetworkCredentials) error {
	if errs := ValidateNetworkCredentials(creds); len(errs) > 0 {
		return errs[0]
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return NewParseError("failed to encode credentials", err)
	}
	return c.doJSON(ctx, http.MethodPost, PathNetwork, body, nil)
}

// VerifyNetwork reads the credentials back and compares the SSID.
// The password is not compared because some firmware builds blank it on read.
func (c *Client) VerifyNetwork(ctx context.Context, expected *NetworkCredentials) error {
	current, err := c.GetNetwork(ctx)
	if err != nil {
		return fmt.Errorf("failed to read back network configuration: %w", err)
	}
	if current.SSID != expected.SSID {
		return NewValidationError(fmt.Sprintf("ssid mismatch: expected %q, got %q", expected.SSID, current.SSID))
	}
	return nil
}

// OTAStatus performs one status query. It blocks until the device answers,
// the request fails, or ctx ends.
func (c *Client) OTAStatus(ctx context.Context) (*OTAStatus, error) {
	var out OTAStatus
	if err := c.doJSON(ctx, http.MethodPost, PathOTAStatus, []byte(otaStatusBody), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON performs a single request against the current endpoint snapshot.
// A nil out discards the body after checking the status code.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	base := c.Endpoint.Snapshot()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return NewNetworkError(fmt.Sprintf("failed to create %s request", method), err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		if bytes.HasPrefix(body, []byte("{")) {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "text/plain")
		}
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		devErr := NewNetworkError(fmt.Sprintf("%s %s failed", method, path), err)
		devErr.DeviceIP = hostOf(base)
		return devErr
	}
	defer func() { _ = resp.Body.Close() }()

	logging.Debug("Device API call",
		zap.String("method", method),
		zap.String("url", base+path),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return NewNetworkError("failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return NewHTTPError(resp.StatusCode, fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, msg))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewParseError(fmt.Sprintf("failed to parse %s response", path), err)
	}
	return nil
}

func hostOf(base string) string {
	return strings.TrimPrefix(base, "http://")
}

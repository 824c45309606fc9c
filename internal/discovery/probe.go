package discovery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/version"
)

// DefaultProbeTimeout bounds a single probe
const DefaultProbeTimeout = 400 * time.Millisecond

// ProbeResult is the outcome of one probe. Confirmed is false for every
// kind of absence; Err keeps the transport cause for logging only.
type ProbeResult struct {
	Address   string
	Confirmed bool
	Elapsed   time.Duration
	Err       error
}

// Prober checks whether a single address is the device.
type Prober interface {
	Probe(ctx context.Context, address string) ProbeResult
}

// HTTPProber confirms a host by asking it for its own address.
type HTTPProber struct {
	// Timeout bounds each probe, connection setup included
	Timeout time.Duration

	// HTTPClient is shared by all probes
	HTTPClient *http.Client
}

// NewHTTPProber creates a prober. A non-positive timeout selects DefaultProbeTimeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	return &HTTPProber{
		Timeout:    timeout,
		HTTPClient: &http.Client{Transport: transport},
	}
}

// Probe issues GET /api/config/ip_addr against address. The returned
// address is the probed one, not the one the device reports.
func (p *HTTPProber) Probe(ctx context.Context, address string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	confirmed, err := p.check(ctx, address)
	res := ProbeResult{Address: address, Confirmed: confirmed, Elapsed: time.Since(start), Err: err}
	logging.LogProbe(address, res.Confirmed, res.Elapsed, res.Err)
	return res
}

func (p *HTTPProber) check(ctx context.Context, address string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+address+deviceapi.PathIPAddr, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}

	var body deviceapi.IPAddr
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return false, nil
	}
	return body.Assigned(), nil
}

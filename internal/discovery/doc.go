// Package discovery locates the device on the local IPv4 subnet.
//
// The device has no fixed address once it joins a station network, so the
// CLI and the control panel find it by sweeping a /24 and asking every host
// for its address.
//
// # Discovery Process
//
// The sweep works as follows:
//  1. The host range (1-254 by default) is split into batches of 50
//  2. Every probe in a batch is started before any result is awaited
//  3. Each probe is a GET /api/config/ip_addr bounded by its own 400 ms timeout
//  4. The batch is joined; the first confirmed address in settlement order wins
//  5. A confirmed address ends the scan; later batches are never started
//
// A host confirms itself by answering with a non-null "ip" field. Hosts that
// refuse, time out, answer with an error status or return anything else are
// treated as absent and never retried within the same scan.
//
// # Usage Example
//
//	cfg := discovery.DefaultConfig("192.168.0")
//	scanner, err := discovery.NewScanner(cfg, discovery.NewHTTPProber(0))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := scanner.Locate(ctx, cell)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !report.Found {
//	    fmt.Println("device not found, still using", cell.Snapshot())
//	}
//
// # mDNS Hints
//
// When a Hinter is configured the scanner first browses _http._tcp via mDNS
// and probes the advertised addresses on the scanned prefix. A hint is only
// trusted after the same probe confirms it; otherwise the sweep runs as usual.
//
// # Thread Safety
//
// Scanner and HTTPProber are safe for concurrent use. Locate is the only
// function in the package that writes the endpoint cell.
package discovery

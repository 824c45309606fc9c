package discovery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-ping/ping"
)

// PingSummary describes an ICMP reachability check.
type PingSummary struct {
	Address   string
	Attempts  int
	Received  int
	Reachable bool
	AvgRTT    time.Duration
	Latencies []time.Duration
}

// Ping sends attempts ICMP echo requests to host. Unprivileged (UDP) ICMP
// is used everywhere except Windows.
func Ping(ctx context.Context, host string, attempts int) (PingSummary, error) {
	summary := PingSummary{Address: host, Attempts: attempts}

	pinger, err := ping.NewPinger(host)
	if err != nil {
		return summary, err
	}

	if runtime.GOOS == "windows" {
		pinger.SetPrivileged(true)
	} else {
		pinger.SetPrivileged(false)
	}

	if attempts <= 0 {
		attempts = 1
	}
	pinger.Count = attempts
	pinger.Interval = 200 * time.Millisecond
	pinger.Timeout = time.Duration(attempts) * time.Second

	statsCh := make(chan *ping.Statistics, 1)
	var mu sync.Mutex

	pinger.OnRecv = func(pkt *ping.Packet) {
		mu.Lock()
		summary.Latencies = append(summary.Latencies, pkt.Rtt)
		mu.Unlock()
	}
	pinger.OnFinish = func(stats *ping.Statistics) {
		statsCh <- stats
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- pinger.Run()
	}()

	statsTimeout := time.NewTimer(pinger.Timeout + 2*time.Second)
	defer statsTimeout.Stop()

	var stats *ping.Statistics
	for stats == nil {
		select {
		case <-ctx.Done():
			pinger.Stop()
			return summary, ctx.Err()
		case runErr := <-errCh:
			if runErr != nil {
				return summary, runErr
			}
		case stats = <-statsCh:
		case <-statsTimeout.C:
			pinger.Stop()
			return summary, fmt.Errorf("ping timeout for host %s", host)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	summary.Attempts = stats.PacketsSent
	summary.Received = stats.PacketsRecv
	if stats.PacketsRecv == 0 {
		return summary, errors.New("no response")
	}
	summary.Reachable = true
	summary.AvgRTT = stats.AvgRtt
	return summary, nil
}

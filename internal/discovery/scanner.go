package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/espctl/espctl/internal/endpoint"
	"github.com/espctl/espctl/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of probes in flight per round
const DefaultBatchSize = 50

// DefaultHintTimeout bounds the mDNS browse that precedes a sweep
const DefaultHintTimeout = 2 * time.Second

// Report sources
const (
	SourceSweep = "sweep"
	SourceMDNS  = "mdns"
)

// Config describes one sweep of a /24.
type Config struct {
	// Prefix is the first three octets, e.g. "192.168.0"
	Prefix string

	// Start and End are the inclusive host range
	Start int
	End   int

	// BatchSize is the number of concurrent probes per round
	BatchSize int

	// PreferLowest picks the numerically lowest confirmed host of the
	// winning round instead of the first to settle
	PreferLowest bool
}

// DefaultConfig returns the standard 1-254 sweep of prefix in batches of 50
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:    prefix,
		Start:     MinHost,
		End:       MaxHost,
		BatchSize: DefaultBatchSize,
	}
}

// Validate checks the sweep parameters
func (c Config) Validate() error {
	if _, err := ParsePrefix(c.Prefix); err != nil {
		return err
	}
	if c.Start < MinHost || c.End > MaxHost || c.Start > c.End {
		return fmt.Errorf("invalid host range %d-%d (must be within %d-%d)", c.Start, c.End, MinHost, MaxHost)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Rounds returns the number of batches a sweep with no confirmed host runs
func (c Config) Rounds() int {
	n := c.End - c.Start + 1
	return (n + c.BatchSize - 1) / c.BatchSize
}

// Report is the outcome of one Discover call.
type Report struct {
	// Address is the confirmed host address, empty when nothing was found
	Address string
	Found   bool

	// Source is SourceMDNS when a hint was confirmed, SourceSweep otherwise
	Source string

	// Rounds is the number of batches started; Probed the number of probes issued
	Rounds int
	Probed int

	// Canceled is set when the parent context ended before the sweep finished
	Canceled bool

	Duration time.Duration
}

// Hinter proposes candidate addresses before a sweep.
type Hinter interface {
	Candidates(ctx context.Context, prefix string) ([]string, error)
}

// Scanner runs sweeps with a Prober.
type Scanner struct {
	Config Config
	Prober Prober

	// Hinter is optional; when set its candidates are probed before the sweep
	Hinter      Hinter
	HintTimeout time.Duration
}

// NewScanner validates cfg and returns a scanner. The prefix is normalized.
func NewScanner(cfg Config, prober Prober) (*Scanner, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Prefix, _ = ParsePrefix(cfg.Prefix)
	return &Scanner{
		Config:      cfg,
		Prober:      prober,
		HintTimeout: DefaultHintTimeout,
	}, nil
}

type settled struct {
	target Target
	result ProbeResult
}

// Discover runs the sweep and returns the first confirmed address.
//
// Batches are strictly sequential. Within a batch every probe is launched
// before any is awaited and the batch is joined before the next one starts.
// A confirmed address ends the sweep. Cancellation of ctx is observed
// between batches; probes already in flight end through their own timeouts,
// which derive from ctx.
func (s *Scanner) Discover(ctx context.Context) *Report {
	start := time.Now()
	report := &Report{Source: SourceSweep}
	defer func() { report.Duration = time.Since(start) }()

	if s.Hinter != nil {
		addr, probed := s.tryHints(ctx)
		report.Probed = probed
		if addr != "" {
			report.Address, report.Found, report.Source = addr, true, SourceMDNS
			return report
		}
	}

	targets := Targets(s.Config.Prefix, s.Config.Start, s.Config.End)
	for i := 0; i < len(targets); i += s.Config.BatchSize {
		if ctx.Err() != nil {
			report.Canceled = true
			return report
		}

		end := i + s.Config.BatchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[i:end]

		report.Rounds++
		report.Probed += len(batch)

		roundStart := time.Now()
		confirmed := s.runBatch(ctx, batch)
		logging.LogScanRound(report.Rounds, batch[0].Host, batch[len(batch)-1].Host, len(confirmed), time.Since(roundStart))

		if len(confirmed) > 0 {
			if s.Config.PreferLowest {
				sort.SliceStable(confirmed, func(a, b int) bool {
					return confirmed[a].target.Host < confirmed[b].target.Host
				})
			}
			report.Address = confirmed[0].result.Address
			report.Found = true
			return report
		}
		if ctx.Err() != nil {
			report.Canceled = true
			return report
		}
	}
	return report
}

// runBatch fans out one probe per target and returns the confirmed results
// in the order they settled.
func (s *Scanner) runBatch(ctx context.Context, batch []Target) []settled {
	results := make(chan settled, len(batch))

	var g errgroup.Group
	for _, t := range batch {
		t := t
		g.Go(func() error {
			results <- settled{target: t, result: s.Prober.Probe(ctx, t.Address())}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	var confirmed []settled
	for r := range results {
		if r.result.Confirmed {
			confirmed = append(confirmed, r)
		}
	}
	return confirmed
}

// tryHints probes the hinter's candidates on the configured prefix.
func (s *Scanner) tryHints(ctx context.Context) (string, int) {
	hctx, cancel := context.WithTimeout(ctx, s.HintTimeout)
	defer cancel()

	candidates, err := s.Hinter.Candidates(hctx, s.Config.Prefix)
	if err != nil {
		logging.Debug("mDNS hint lookup failed", zap.Error(err))
		return "", 0
	}

	probed := 0
	for _, addr := range candidates {
		if ctx.Err() != nil {
			break
		}
		probed++
		if res := s.Prober.Probe(ctx, addr); res.Confirmed {
			return res.Address, probed
		}
	}
	return "", probed
}

// Locate runs Discover and, only when a device is confirmed, points cell
// at it. When nothing is found the cell keeps its current value.
func (s *Scanner) Locate(ctx context.Context, cell *endpoint.Cell) (*Report, error) {
	report := s.Discover(ctx)

	if !report.Found {
		logging.Info("No device found on subnet; keeping current endpoint",
			zap.String("prefix", s.Config.Prefix),
			zap.String("endpoint", cell.Snapshot()),
			zap.Int("rounds", report.Rounds),
			zap.Int("probed", report.Probed),
			zap.Bool("canceled", report.Canceled),
			zap.Duration("elapsed", report.Duration),
		)
		return report, nil
	}

	old := cell.Snapshot()
	changed, err := cell.SetHost(report.Address)
	if err != nil {
		return report, fmt.Errorf("failed to update endpoint to %s: %w", report.Address, err)
	}
	if changed {
		logging.LogEndpointChange(old, cell.Snapshot())
	}
	return report, nil
}

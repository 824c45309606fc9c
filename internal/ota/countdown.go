package ota

import (
	"time"

	"github.com/espctl/espctl/internal/logging"
	"go.uber.org/zap"
)

// Restarter is the terminal effect of a finished countdown.
type Restarter interface {
	Restart()
}

// RestartFunc adapts a function to Restarter
type RestartFunc func()

// Restart calls f
func (f RestartFunc) Restart() { f() }

// Ticker is the part of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Countdown runs the reboot countdown of a session that reached Counting.
type Countdown struct {
	Seconds   int
	Interval  time.Duration
	Session   *Session
	Restarter Restarter
	NewTicker TickerFactory
}

// NewCountdown returns a one-second, CountdownSeconds long countdown
func NewCountdown(session *Session, restarter Restarter) *Countdown {
	return &Countdown{
		Seconds:   CountdownSeconds,
		Interval:  time.Second,
		Session:   session,
		Restarter: restarter,
		NewTicker: NewRealTicker,
	}
}

// Run performs exactly Seconds ticks, stops the ticker and then calls the
// restarter once. It has no cancellation path.
func (c *Countdown) Run() {
	newTicker := c.NewTicker
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	ticker := newTicker(c.Interval)

	remaining := c.Seconds
	for remaining > 0 {
		<-ticker.C()
		remaining--
		c.Session.Tick(remaining)
	}
	ticker.Stop()

	c.Session.Finish()
	logging.Info("Reboot countdown finished", zap.Int("seconds", c.Seconds))
	if c.Restarter != nil {
		c.Restarter.Restart()
	}
}

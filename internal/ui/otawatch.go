package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/espctl/espctl/internal/ota"
)

// EventFeed turns session callbacks into a channel. It holds only the
// newest event: every event carries the full state, so a slow reader loses
// nothing but intermediate frames.
type EventFeed struct {
	mu sync.Mutex
	ch chan ota.Event
}

// NewEventFeed subscribes a feed to session
func NewEventFeed(session *ota.Session) *EventFeed {
	f := &EventFeed{ch: make(chan ota.Event, 1)}
	session.Subscribe(f.push)
	return f
}

func (f *EventFeed) push(ev ota.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.ch:
	default:
	}
	f.ch <- ev
}

// Events returns the receive side of the feed
func (f *EventFeed) Events() <-chan ota.Event {
	return f.ch
}

type otaEventMsg struct{ ev ota.Event }

func waitForEvent(ch <-chan ota.Event) tea.Cmd {
	return func() tea.Msg {
		return otaEventMsg{ev: <-ch}
	}
}

// Terminal reports whether no further session events are expected.
func Terminal(st ota.State) bool {
	return st.Phase == ota.PhaseFailed || st.Phase == ota.PhaseDone
}

// OTAWatchModel follows one upload until it fails or the reboot countdown
// ends.
type OTAWatchModel struct {
	Firmware string
	Device   string

	// Interrupted is set when the user quit before the session ended
	Interrupted bool

	state   ota.State
	events  <-chan ota.Event
	bar     progress.Model
	spinner spinner.Model
	width   int
}

// NewOTAWatchModel starts from the session's current state
func NewOTAWatchModel(session *ota.Session, feed *EventFeed, firmware, device string) OTAWatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StepRunningStyle

	return OTAWatchModel{
		Firmware: firmware,
		Device:   device,
		state:    session.Snapshot(),
		events:   feed.Events(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:  sp,
		width:    GetTerminalWidth(),
	}
}

// State returns the last state the model saw
func (m OTAWatchModel) State() ota.State {
	return m.state
}

// Init implements tea.Model
func (m OTAWatchModel) Init() tea.Cmd {
	if Terminal(m.state) {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model
func (m OTAWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case otaEventMsg:
		m.state = msg.ev.State
		if Terminal(m.state) {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.Interrupted = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		barWidth := m.width - 30
		if barWidth > 50 {
			barWidth = 50
		}
		if barWidth < 20 {
			barWidth = 20
		}
		m.bar.Width = barWidth

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m OTAWatchModel) View() string {
	var b strings.Builder
	st := m.state

	b.WriteString(ProgressLabelStyle.Render(fmt.Sprintf("Uploading %s to %s", m.Firmware, m.Device)))
	b.WriteString("\n\n  ")

	switch {
	case st.Percent() >= 0:
		b.WriteString(m.bar.ViewAs(st.Percent()))
		b.WriteString(fmt.Sprintf("  %3.0f%%  %s / %s", st.Percent()*100, FormatBytes(st.BytesSent), FormatBytes(st.BytesTotal)))
	case st.Phase == ota.PhaseUploading:
		b.WriteString(m.spinner.View())
		b.WriteString(" " + FormatBytes(st.BytesSent) + " sent")
	default:
		b.WriteString(FormatBytes(st.BytesSent) + " sent")
	}
	b.WriteString("\n\n")

	b.WriteString(renderPhaseLine(st, m.spinner.View()))
	b.WriteString("\n")

	if !st.Firmware.IsZero() {
		b.WriteString(StepNoteStyle.Render("  Firmware: " + st.Firmware.String()))
		b.WriteString("\n")
	}
	if st.LastPollError != "" {
		b.WriteString(StepNoteStyle.Render("  Last status poll failed: " + st.LastPollError))
		b.WriteString("\n")
	}
	if !Terminal(st) {
		b.WriteString(StepPendingStyle.Render("\n  Press q to stop watching"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderPhaseLine(st ota.State, spin string) string {
	switch st.Phase {
	case ota.PhaseUploading:
		return StepRunningStyle.Render("  " + spin + " Uploading")
	case ota.PhasePending:
		return StepRunningStyle.Render("  " + spin + " Waiting for the device to report")
	case ota.PhaseCounting:
		return CountdownStyle.Render("  " + st.Message())
	case ota.PhaseFailed:
		return ErrorTitleStyle.Render("  " + FailureMarker + " " + st.Message())
	case ota.PhaseDone:
		return SuccessTitleStyle.Render("  " + SuccessMarker + " Device is rebooting")
	default:
		return StepPendingStyle.Render("  Idle")
	}
}

// WatchOTA runs an OTAWatchModel on out until the session ends or the user
// quits, and returns the final model.
func WatchOTA(out io.Writer, session *ota.Session, feed *EventFeed, firmware, device string) (OTAWatchModel, error) {
	model := NewOTAWatchModel(session, feed, firmware, device)
	final, err := tea.NewProgram(model, tea.WithOutput(out)).Run()
	if err != nil {
		return model, err
	}
	return final.(OTAWatchModel), nil
}

// PlainReporter returns a subscriber that writes one line per notable
// event. Progress is reported in steps of ten percent.
func PlainReporter(out io.Writer) ota.Subscriber {
	var mu sync.Mutex
	lastPhase := ota.PhaseIdle
	lastDecile, lastSecs := -1, -1
	return func(ev ota.Event) {
		mu.Lock()
		defer mu.Unlock()
		st := ev.State

		switch ev.Type {
		case ota.EventProgress:
			if pct := st.Percent(); pct >= 0 {
				if d := int(pct * 10); d > lastDecile {
					lastDecile = d
					_, _ = fmt.Fprintf(out, "upload %3d%% (%s / %s)\n", d*10, FormatBytes(st.BytesSent), FormatBytes(st.BytesTotal))
				}
			}
		case ota.EventPollFailure:
			_, _ = fmt.Fprintf(out, "status poll failed: %s\n", st.LastPollError)
		case ota.EventCountdown:
			if st.SecondsRemaining != nil && *st.SecondsRemaining != lastSecs {
				lastSecs = *st.SecondsRemaining
				_, _ = fmt.Fprintln(out, st.Message())
			}
		}

		if st.Phase == lastPhase {
			return
		}
		lastPhase = st.Phase
		switch st.Phase {
		case ota.PhaseUploading:
			lastDecile, lastSecs = -1, -1
			_, _ = fmt.Fprintln(out, "upload started")
		case ota.PhasePending:
			_, _ = fmt.Fprintf(out, "upload finished (%s sent), waiting for device\n", FormatBytes(st.BytesSent))
		case ota.PhaseCounting:
			if st.SecondsRemaining != nil {
				lastSecs = *st.SecondsRemaining
			}
			_, _ = fmt.Fprintln(out, st.Message())
		case ota.PhaseFailed:
			_, _ = fmt.Fprintln(out, st.Message())
		case ota.PhaseDone:
			_, _ = fmt.Fprintln(out, "device is rebooting")
		}
	}
}

// FormatBytes renders n as B, KB or MB
func FormatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

var _ tea.Model = OTAWatchModel{}

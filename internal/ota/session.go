package ota

import (
	"errors"
	"fmt"
	"sync"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/logging"
	"go.uber.org/zap"
)

// CountdownSeconds is the reboot countdown length after a successful flash
const CountdownSeconds = 10

// User-facing messages
const (
	CountdownMessageFormat = "OTA Firmware Update Complete. Rebooting in: %d"
	UploadErrorMessage     = "!!! Upload Error !!!"
)

var (
	// ErrNoFile is returned when an upload is started without a firmware file
	ErrNoFile = errors.New("no firmware file selected")

	// ErrUploadInProgress is returned when an upload is started while another
	// session is still uploading, pending or counting down
	ErrUploadInProgress = errors.New("an OTA update is already in progress")
)

// Phase is the lifecycle position of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseUploading
	PhasePending
	PhaseCounting
	PhaseFailed
	PhaseDone
)

// String returns the lower-case phase name used in logs and events
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseUploading:
		return "uploading"
	case PhasePending:
		return "pending"
	case PhaseCounting:
		return "counting"
	case PhaseFailed:
		return "failed"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MarshalText renders the phase name in JSON
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a name written by MarshalText
func (p *Phase) UnmarshalText(b []byte) error {
	name := string(b)
	for candidate := PhaseIdle; candidate <= PhaseDone; candidate++ {
		if candidate.String() == name {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown OTA phase %q", name)
}

// Active reports whether a new upload must be refused.
func (p Phase) Active() bool {
	return p == PhaseUploading || p == PhasePending || p == PhaseCounting
}

// State is a copy of the session at one point in time.
type State struct {
	Phase            Phase                      `json:"phase"`
	UploadInProgress bool                       `json:"upload_in_progress"`
	DeviceStatus     deviceapi.StatusCode       `json:"device_status"`
	SecondsRemaining *int                       `json:"seconds_remaining"`
	Firmware         deviceapi.FirmwareIdentity `json:"firmware"`
	BytesSent        int64                      `json:"bytes_sent"`
	BytesTotal       int64                      `json:"bytes_total"`
	LastPollError    string                     `json:"last_poll_error,omitempty"`
	Error            string                     `json:"error,omitempty"`

	// Err is the cause of a Failed phase
	Err error `json:"-"`
}

// Message returns the line shown to the user for this state, if any.
func (s State) Message() string {
	switch s.Phase {
	case PhaseCounting:
		if s.SecondsRemaining != nil {
			return fmt.Sprintf(CountdownMessageFormat, *s.SecondsRemaining)
		}
	case PhaseFailed:
		if deviceapi.IsOTARejected(s.Err) {
			return UploadErrorMessage
		}
		if s.Error != "" {
			return "Upload failed: " + s.Error
		}
	}
	return ""
}

// Percent returns upload progress in [0, 1], or -1 when the size is unknown.
func (s State) Percent() float64 {
	if s.BytesTotal <= 0 {
		return -1
	}
	p := float64(s.BytesSent) / float64(s.BytesTotal)
	if p > 1 {
		p = 1
	}
	return p
}

// EventType names what changed.
type EventType string

const (
	EventPhase       EventType = "phase"
	EventProgress    EventType = "progress"
	EventStatus      EventType = "status"
	EventPollFailure EventType = "poll_failure"
	EventCountdown   EventType = "countdown"
)

// Event is delivered to subscribers after every input.
type Event struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
}

// Subscriber receives session events. It runs on the goroutine that fed the
// input and must not call back into the session's inputs.
type Subscriber func(Event)

// Session is the OTA state machine. All inputs are safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	state       State
	subscribers []Subscriber
}

// NewSession returns an idle session
func NewSession() *Session {
	return &Session{}
}

// Subscribe registers fn for every subsequent event
func (s *Session) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Session) copyLocked() State {
	st := s.state
	if st.SecondsRemaining != nil {
		v := *st.SecondsRemaining
		st.SecondsRemaining = &v
	}
	return st
}

// Begin resets the session for a new upload.
func (s *Session) Begin(total int64) error {
	s.mu.Lock()
	if s.state.Phase.Active() {
		s.mu.Unlock()
		return ErrUploadInProgress
	}
	from := s.state.Phase
	s.state = State{
		Phase:            PhaseUploading,
		UploadInProgress: true,
		DeviceStatus:     deviceapi.StatusPending,
		Firmware:         s.state.Firmware,
		BytesTotal:       total,
	}
	s.publishLocked(EventPhase, from)
	return nil
}

// ProgressTick records transferred bytes. It reports whether the tick
// should be followed by a status poll: only when the length is known and
// the outcome is still open.
func (s *Session) ProgressTick(sent, total int64) bool {
	s.mu.Lock()
	if s.state.Phase != PhaseUploading {
		s.mu.Unlock()
		return false
	}
	s.state.BytesSent = sent
	s.state.BytesTotal = total
	s.publishLocked(EventProgress, s.state.Phase)
	return total > 0
}

// StatusResponse applies one status answer. The firmware identity is always
// taken over. It reports whether the answer started the countdown.
func (s *Session) StatusResponse(st *deviceapi.OTAStatus) bool {
	s.mu.Lock()
	if fw := st.Firmware(); !fw.IsZero() {
		s.state.Firmware = fw
	}
	s.state.LastPollError = ""

	from := s.state.Phase
	if from != PhaseUploading && from != PhasePending {
		s.publishLocked(EventStatus, from)
		return false
	}

	started := false
	switch st.Status() {
	case deviceapi.StatusSuccess:
		remaining := CountdownSeconds
		s.state.DeviceStatus = deviceapi.StatusSuccess
		s.state.Phase = PhaseCounting
		s.state.SecondsRemaining = &remaining
		started = true
	case deviceapi.StatusError:
		err := deviceapi.NewOTARejectedError("device reported status -1")
		s.state.DeviceStatus = deviceapi.StatusError
		s.state.Phase = PhaseFailed
		s.state.Err = err
		s.state.Error = err.Error()
	}
	s.publishLocked(EventStatus, from)
	return started
}

// PollFailure records a status poll that never reached the device. The
// phase is left alone.
func (s *Session) PollFailure(err error) {
	s.mu.Lock()
	s.state.LastPollError = deviceapi.GetShortErrorMessage(err)
	s.publishLocked(EventPollFailure, s.state.Phase)
}

// UploadFinished closes the upload half of the session. A transport error
// fails the session unless the device already reported an outcome.
func (s *Session) UploadFinished(err error) {
	s.mu.Lock()
	from := s.state.Phase
	s.state.UploadInProgress = false
	if from == PhaseUploading {
		if err != nil {
			s.state.Phase = PhaseFailed
			s.state.Err = err
			s.state.Error = deviceapi.GetShortErrorMessage(err)
		} else {
			s.state.Phase = PhasePending
		}
	}
	s.publishLocked(EventPhase, from)
}

// Tick records the remaining countdown seconds.
func (s *Session) Tick(remaining int) {
	s.mu.Lock()
	if s.state.Phase != PhaseCounting {
		s.mu.Unlock()
		return
	}
	s.state.SecondsRemaining = &remaining
	s.publishLocked(EventCountdown, s.state.Phase)
}

// Finish moves a completed countdown to Done.
func (s *Session) Finish() {
	s.mu.Lock()
	from := s.state.Phase
	if from != PhaseCounting {
		s.mu.Unlock()
		return
	}
	s.state.Phase = PhaseDone
	s.state.SecondsRemaining = nil
	s.publishLocked(EventPhase, from)
}

// publishLocked snapshots the state, releases the lock and notifies
// subscribers. It must be called with s.mu held.
func (s *Session) publishLocked(typ EventType, from Phase) {
	st := s.copyLocked()
	subs := append([]Subscriber(nil), s.subscribers...)
	s.mu.Unlock()

	if from != st.Phase {
		fields := []zap.Field{zap.Int("device_status", int(st.DeviceStatus))}
		if st.Err != nil {
			fields = append(fields, zap.Error(st.Err))
		}
		logging.LogOTATransition(from.String(), st.Phase.String(), fields...)
	}

	ev := Event{Type: typ, State: st}
	for _, fn := range subs {
		fn(ev)
	}
}

package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/discovery"
	"github.com/espctl/espctl/internal/ota"
)

func TestHeaderRenderKeepsParamOrder(t *testing.T) {
	h := NewHeader("Firmware update", "espctl ota app.bin",
		Field{Key: "Device", Value: "http://192.168.0.37"},
		Field{Key: "Firmware", Value: "app.bin"},
	).SetWidth(80)

	out := h.Render()
	if !strings.Contains(out, "FIRMWARE UPDATE") {
		t.Errorf("title not upper-cased in %q", out)
	}
	dev := strings.Index(out, "Device:")
	fw := strings.Index(out, "Firmware:")
	if dev < 0 || fw < 0 || dev > fw {
		t.Errorf("params out of order in %q", out)
	}
}

func TestResultRender(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   []string
	}{
		{
			name:   "success",
			result: NewSuccessResult("Device found", Field{Key: "Endpoint", Value: "http://192.168.0.37"}),
			want:   []string{"SUCCESS", "Device found", "http://192.168.0.37"},
		},
		{
			name:   "failure",
			result: NewFailureResult("Scan failed", errors.New("boom"), []string{"check the cable"}),
			want:   []string{"FAILED", "Error: boom", "Troubleshooting:", "check the cable"},
		},
		{
			name:   "warning",
			result: NewWarningResult("No device found", Field{Key: "Endpoint", Value: "unchanged"}),
			want:   []string{"WARNING", "No device found", "unchanged"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.result.SetWidth(80).Render()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("Render() missing %q in %q", w, out)
				}
			}
		})
	}
}

func TestNewScanProgress(t *testing.T) {
	cfg := discovery.DefaultConfig("192.168.0")

	t.Run("found in first batch", func(t *testing.T) {
		p := NewScanProgress(cfg, &discovery.Report{
			Address: "192.168.0.37", Found: true, Source: discovery.SourceSweep, Rounds: 1,
		})
		if len(p.Steps) != 6 {
			t.Fatalf("steps = %d, want 6", len(p.Steps))
		}
		if p.Steps[0].Status != StepComplete || p.Steps[0].Message != "found 192.168.0.37" {
			t.Errorf("step 1 = %+v", p.Steps[0])
		}
		for _, s := range p.Steps[1:] {
			if s.Status != StepSkipped {
				t.Errorf("step %d status = %v, want skipped", s.Number, s.Status)
			}
		}
		if p.Steps[5].Name != "Hosts 251-254" {
			t.Errorf("last step name = %q", p.Steps[5].Name)
		}
		if p.Percent != 1 {
			t.Errorf("percent = %v, want 1", p.Percent)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		p := NewScanProgress(cfg, &discovery.Report{Rounds: 6})
		for _, s := range p.Steps {
			if s.Status != StepComplete {
				t.Errorf("step %d status = %v, want complete", s.Number, s.Status)
			}
		}
		if !strings.Contains(p.Render(), "Hosts 1-50") {
			t.Error("render missing first batch")
		}
	})

	t.Run("canceled", func(t *testing.T) {
		p := NewScanProgress(cfg, &discovery.Report{Rounds: 2, Canceled: true})
		if p.Steps[1].Status != StepFailed {
			t.Errorf("step 2 status = %v, want failed", p.Steps[1].Status)
		}
	})
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"YES\n", true},
		{"no\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := WiFiChangeConfirmation(strings.NewReader(tt.input), &out, "home")
		if got != tt.want {
			t.Errorf("input %q: got %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), `"home"`) {
			t.Errorf("prompt does not name the SSID: %q", out.String())
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func status(code string) *deviceapi.OTAStatus {
	return &deviceapi.OTAStatus{RawStatus: []byte(code), CompileDate: "Jan 1 2025", CompileTime: "12:00:00"}
}

func TestPlainReporter(t *testing.T) {
	var out bytes.Buffer
	s := ota.NewSession()
	s.Subscribe(PlainReporter(&out))

	if err := s.Begin(1000); err != nil {
		t.Fatal(err)
	}
	s.ProgressTick(500, 1000)
	s.ProgressTick(510, 1000)
	s.StatusResponse(status("1"))
	s.Tick(9)
	s.Tick(9)

	text := out.String()
	for _, want := range []string{
		"upload started",
		"upload  50%",
		"OTA Firmware Update Complete. Rebooting in: 10",
		"OTA Firmware Update Complete. Rebooting in: 9",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "upload  50%") != 1 {
		t.Errorf("progress decile printed more than once:\n%s", text)
	}
	if strings.Count(text, "Rebooting in: 9") != 1 {
		t.Errorf("countdown second printed more than once:\n%s", text)
	}
}

func TestPlainReporterUploadError(t *testing.T) {
	var out bytes.Buffer
	s := ota.NewSession()
	s.Subscribe(PlainReporter(&out))

	_ = s.Begin(1000)
	s.StatusResponse(status("-1"))

	if !strings.Contains(out.String(), ota.UploadErrorMessage) {
		t.Errorf("output missing upload error: %q", out.String())
	}
}

func TestEventFeedKeepsNewest(t *testing.T) {
	s := ota.NewSession()
	feed := NewEventFeed(s)

	_ = s.Begin(100)
	s.ProgressTick(10, 100)
	s.ProgressTick(20, 100)

	ev := <-feed.Events()
	if ev.State.BytesSent != 20 {
		t.Errorf("BytesSent = %d, want 20", ev.State.BytesSent)
	}
	select {
	case ev := <-feed.Events():
		t.Errorf("unexpected extra event %+v", ev)
	default:
	}
}

func TestOTAWatchModelUpdate(t *testing.T) {
	s := ota.NewSession()
	feed := NewEventFeed(s)
	m := NewOTAWatchModel(s, feed, "app.bin", "http://192.168.0.37")

	if Terminal(m.State()) {
		t.Fatal("idle session reported terminal")
	}

	_ = s.Begin(100)
	s.ProgressTick(50, 100)
	next, cmd := m.Update(otaEventMsg{ev: <-feed.Events()})
	m = next.(OTAWatchModel)
	if cmd == nil {
		t.Fatal("expected a follow-up command while uploading")
	}
	if !strings.Contains(m.View(), "50%") {
		t.Errorf("view missing progress: %q", m.View())
	}

	s.StatusResponse(status("-1"))
	next, _ = m.Update(otaEventMsg{ev: <-feed.Events()})
	m = next.(OTAWatchModel)
	if m.State().Phase != ota.PhaseFailed {
		t.Fatalf("phase = %v, want failed", m.State().Phase)
	}
	if !strings.Contains(m.View(), ota.UploadErrorMessage) {
		t.Errorf("view missing upload error: %q", m.View())
	}
}

func TestOTAWatchModelCountdownView(t *testing.T) {
	s := ota.NewSession()
	feed := NewEventFeed(s)
	m := NewOTAWatchModel(s, feed, "app.bin", "http://192.168.0.37")

	_ = s.Begin(100)
	s.StatusResponse(status("1"))
	s.Tick(7)
	next, _ := m.Update(otaEventMsg{ev: <-feed.Events()})
	m = next.(OTAWatchModel)

	if !strings.Contains(m.View(), "Rebooting in: 7") {
		t.Errorf("view missing countdown: %q", m.View())
	}
	if !strings.Contains(m.View(), "Jan 1 2025 - 12:00:00") {
		t.Errorf("view missing firmware identity: %q", m.View())
	}
}

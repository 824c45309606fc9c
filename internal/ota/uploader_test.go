package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/endpoint"
)

// scriptedClient reports progress in fixed steps and answers status polls
// from a script. The last scripted answer repeats.
type scriptedClient struct {
	steps     int
	uploadErr error
	answers   []string
	pollErrs  map[int]error

	mu      sync.Mutex
	uploads int
	polls   int
	release chan struct{}
}

func (c *scriptedClient) UploadFirmware(ctx context.Context, name string, r io.Reader, size int64, onProgress deviceapi.ProgressFunc) error {
	c.mu.Lock()
	c.uploads++
	release := c.release
	c.mu.Unlock()

	if release != nil {
		<-release
	}
	for i := 1; i <= c.steps; i++ {
		if onProgress != nil {
			onProgress(size*int64(i)/int64(c.steps), size)
		}
	}
	return c.uploadErr
}

func (c *scriptedClient) OTAStatus(ctx context.Context) (*deviceapi.OTAStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.polls
	c.polls++
	if err := c.pollErrs[n]; err != nil {
		return nil, err
	}
	code := "0"
	if len(c.answers) > 0 {
		if n < len(c.answers) {
			code = c.answers[n]
		} else {
			code = c.answers[len(c.answers)-1]
		}
	}
	return status(code), nil
}

func (c *scriptedClient) counts() (uploads, polls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads, c.polls
}

func newTestUploader(client FirmwareClient, restarter Restarter) *Uploader {
	u := NewUploader(client, NewSession(), restarter)
	u.NewTicker = autoTicker
	u.SettleInterval = time.Millisecond
	return u
}

func TestUploader_PendingThreeTimesThenSuccess(t *testing.T) {
	client := &scriptedClient{steps: 4, answers: []string{"0", "0", "0", "1"}}

	var restarts atomic.Int32
	u := newTestUploader(client, RestartFunc(func() { restarts.Add(1) }))

	var ticks []int
	var mu sync.Mutex
	u.Session.Subscribe(func(ev Event) {
		if ev.Type == EventCountdown {
			mu.Lock()
			ticks = append(ticks, *ev.State.SecondsRemaining)
			mu.Unlock()
		}
	})

	if err := u.StartReader(context.Background(), "app.bin", bytes.NewReader(make([]byte, 400)), 400); err != nil {
		t.Fatalf("StartReader() error = %v", err)
	}
	u.Wait()

	if _, polls := client.counts(); polls != 4 {
		t.Errorf("polls = %d, want one per progress tick (4)", polls)
	}
	if restarts.Load() != 1 {
		t.Errorf("restarts = %d, want 1", restarts.Load())
	}
	mu.Lock()
	if len(ticks) != CountdownSeconds || ticks[len(ticks)-1] != 0 {
		t.Errorf("countdown ticks = %v, want 10 ending at 0", ticks)
	}
	mu.Unlock()

	st := u.Session.Snapshot()
	if st.Phase != PhaseDone || st.DeviceStatus != deviceapi.StatusSuccess {
		t.Errorf("final state = %+v", st)
	}
}

func TestUploader_DeviceErrorStopsPolling(t *testing.T) {
	client := &scriptedClient{steps: 5, answers: []string{"0", "-1"}}
	var restarts atomic.Int32
	u := newTestUploader(client, RestartFunc(func() { restarts.Add(1) }))

	_ = u.StartReader(context.Background(), "app.bin", bytes.NewReader(make([]byte, 500)), 500)
	u.Wait()

	if _, polls := client.counts(); polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
	if restarts.Load() != 0 {
		t.Error("a failed update must not restart")
	}
	st := u.Session.Snapshot()
	if st.Phase != PhaseFailed || st.Message() != UploadErrorMessage {
		t.Errorf("state = %+v, message %q", st, st.Message())
	}
}

func TestUploader_NoFileMakesNoRequest(t *testing.T) {
	client := &scriptedClient{steps: 1}
	u := newTestUploader(client, nil)

	if err := u.Start(context.Background(), ""); !errors.Is(err, ErrNoFile) {
		t.Errorf("Start(\"\") error = %v, want ErrNoFile", err)
	}
	if err := u.Start(context.Background(), filepath.Join(t.TempDir(), "missing.bin")); !errors.Is(err, ErrNoFile) {
		t.Errorf("Start(missing) error = %v, want ErrNoFile", err)
	}
	if err := u.Start(context.Background(), t.TempDir()); !errors.Is(err, ErrNoFile) {
		t.Errorf("Start(dir) error = %v, want ErrNoFile", err)
	}
	if err := u.StartReader(context.Background(), "app.bin", nil, 0); !errors.Is(err, ErrNoFile) {
		t.Errorf("StartReader(nil) error = %v, want ErrNoFile", err)
	}

	if uploads, polls := client.counts(); uploads != 0 || polls != 0 {
		t.Errorf("uploads = %d, polls = %d, want no requests", uploads, polls)
	}
	if st := u.Session.Snapshot(); st.Phase != PhaseIdle {
		t.Errorf("Phase = %v, want idle", st.Phase)
	}
}

func TestUploader_RefusesSecondUpload(t *testing.T) {
	client := &scriptedClient{steps: 1, answers: []string{"1"}, release: make(chan struct{})}
	u := newTestUploader(client, nil)

	if err := u.StartReader(context.Background(), "a.bin", bytes.NewReader([]byte("a")), 1); err != nil {
		t.Fatalf("first StartReader() error = %v", err)
	}
	err := u.StartReader(context.Background(), "b.bin", bytes.NewReader([]byte("b")), 1)
	if !errors.Is(err, ErrUploadInProgress) {
		t.Errorf("second StartReader() error = %v, want ErrUploadInProgress", err)
	}

	close(client.release)
	u.Wait()
	if uploads, _ := client.counts(); uploads != 1 {
		t.Errorf("uploads = %d, want 1", uploads)
	}
}

func TestUploader_PollFailureIsRecordedAndPollingContinues(t *testing.T) {
	client := &scriptedClient{
		steps:    3,
		answers:  []string{"0", "0", "1"},
		pollErrs: map[int]error{1: deviceapi.NewNetworkError("POST /OTAstatus failed", errors.New("connection reset"))},
	}
	u := newTestUploader(client, nil)

	var sawFailure atomic.Bool
	u.Session.Subscribe(func(ev Event) {
		if ev.Type == EventPollFailure {
			if ev.State.Phase != PhaseUploading || ev.State.LastPollError == "" {
				t.Errorf("poll failure event state = %+v", ev.State)
			}
			sawFailure.Store(true)
		}
	})

	_ = u.StartReader(context.Background(), "app.bin", bytes.NewReader(make([]byte, 300)), 300)
	u.Wait()

	if !sawFailure.Load() {
		t.Error("no poll failure event")
	}
	if st := u.Session.Snapshot(); st.Phase != PhaseDone {
		t.Errorf("Phase = %v, want done after the next poll succeeded", st.Phase)
	}
}

func TestUploader_TransportErrorFailsSession(t *testing.T) {
	client := &scriptedClient{
		steps:     2,
		uploadErr: deviceapi.NewNetworkError("firmware upload failed", errors.New("broken pipe")),
	}
	u := newTestUploader(client, nil)

	_ = u.StartReader(context.Background(), "app.bin", bytes.NewReader(make([]byte, 10)), 10)
	u.Wait()

	st := u.Session.Snapshot()
	if st.Phase != PhaseFailed || !deviceapi.IsNetworkError(st.Err) {
		t.Errorf("state = %+v, want failed with a network cause", st)
	}
	if st.Message() == UploadErrorMessage {
		t.Error("transport failure must not read as a device rejection")
	}
}

func TestUploader_SettlePollsAfterUpload(t *testing.T) {
	client := &scriptedClient{steps: 2, answers: []string{"0", "0", "0", "1"}}
	u := newTestUploader(client, nil)

	_ = u.StartReader(context.Background(), "app.bin", bytes.NewReader(make([]byte, 10)), 10)
	u.Wait()

	if _, polls := client.counts(); polls != 4 {
		t.Errorf("polls = %d, want 2 progress polls and 2 settle polls", polls)
	}
	if st := u.Session.Snapshot(); st.Phase != PhaseDone {
		t.Errorf("Phase = %v, want done", st.Phase)
	}
}

func TestUploader_AgainstDeviceAPI(t *testing.T) {
	var received int64
	mux := http.NewServeMux()
	mux.HandleFunc(deviceapi.PathOTAUpdate, func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile(deviceapi.FirmwareField)
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			return
		}
		defer file.Close()
		n, _ := io.Copy(io.Discard, file)
		atomic.StoreInt64(&received, n)
	})
	mux.HandleFunc(deviceapi.PathOTAStatus, func(w http.ResponseWriter, r *http.Request) {
		code := 0
		if atomic.LoadInt64(&received) > 0 {
			code = 1
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ota_update_status": code,
			"compile_date":      "Mar 14 2024",
			"compile_time":      "09:26:53",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "app.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xE9}, 256<<10), 0o644); err != nil {
		t.Fatal(err)
	}

	client := deviceapi.NewClient(endpoint.MustNew(server.URL))
	done := make(chan struct{})
	u := newTestUploader(client, RestartFunc(func() { close(done) }))
	u.SettlePolls = 10

	if err := u.Start(context.Background(), path); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	u.Wait()

	select {
	case <-done:
	default:
		t.Fatal("restart never ran")
	}
	st := u.Session.Snapshot()
	if st.Phase != PhaseDone || st.Firmware.String() != "Mar 14 2024 - 09:26:53" {
		t.Errorf("final state = %+v", st)
	}
	if st.BytesSent != 256<<10 {
		t.Errorf("BytesSent = %d, want %d", st.BytesSent, 256<<10)
	}
}

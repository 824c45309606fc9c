package panel

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/ota"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultMaxFirmwareSize bounds uploads received by /api/ota
const DefaultMaxFirmwareSize = 16 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type endpointView struct {
	Endpoint string `json:"endpoint"`
	Previous string `json:"previous,omitempty"`
}

type scanView struct {
	Found    bool   `json:"found"`
	Address  string `json:"address,omitempty"`
	Source   string `json:"source,omitempty"`
	Rounds   int    `json:"rounds"`
	Probed   int    `json:"probed"`
	Canceled bool   `json:"canceled,omitempty"`
	Duration string `json:"duration"`
	Endpoint string `json:"endpoint"`
}

type helloView struct {
	Endpoint string    `json:"endpoint"`
	OTA      ota.State `json:"ota"`
}

type errorView struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// Handler returns the panel's routes wrapped in request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/endpoint", s.handleEndpoint)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("GET /api/leds/{id}", s.handleGetLED)
	mux.HandleFunc("POST /api/leds/{id}/toggle", s.handleToggleLED)
	mux.HandleFunc("GET /api/ota", s.handleOTAState)
	mux.HandleFunc("POST /api/ota", s.handleOTAUpload)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return logRequests(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexHTML)
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, endpointView{Endpoint: s.cell.Snapshot()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorView{Error: "discovery is disabled"})
		return
	}
	report, err := s.locate(r.Context())
	if errors.Is(err, errScanBusy) {
		writeJSON(w, http.StatusConflict, errorView{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, scanView{
		Found:    report.Found,
		Address:  report.Address,
		Source:   report.Source,
		Rounds:   report.Rounds,
		Probed:   report.Probed,
		Canceled: report.Canceled,
		Duration: report.Duration.Round(time.Millisecond).String(),
		Endpoint: s.cell.Snapshot(),
	})
}

func (s *Server) handleGetLED(w http.ResponseWriter, r *http.Request) {
	id, ok := ledID(w, r)
	if !ok {
		return
	}
	state, err := s.client.GetLED(r.Context(), id)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleToggleLED(w http.ResponseWriter, r *http.Request) {
	id, ok := ledID(w, r)
	if !ok {
		return
	}
	state, err := s.client.ToggleLED(r.Context(), id)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleOTAState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// handleOTAUpload spools the firmware part to a temporary file and hands it
// to the uploader. The request returns once the upload has started.
func (s *Server) handleOTAUpload(w http.ResponseWriter, r *http.Request) {
	if s.session.Snapshot().Phase.Active() {
		writeJSON(w, http.StatusConflict, errorView{Error: ota.ErrUploadInProgress.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFirmwareSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: ota.ErrNoFile.Error()})
		return
	}

	var fw *spooledFirmware
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorView{Error: fmt.Sprintf("invalid multipart body: %v", err)})
			return
		}
		if part.FormName() != deviceapi.FirmwareField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		fw, err = spool(part, part.FileName(), s.config.MaxFirmwareSize)
		_ = part.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
			return
		}
		break
	}
	if fw == nil || fw.size == 0 {
		if fw != nil {
			_ = fw.Close()
		}
		writeJSON(w, http.StatusBadRequest, errorView{Error: ota.ErrNoFile.Error()})
		return
	}

	if err := s.uploader.StartReader(s.ctx, fw.name, fw, fw.size); err != nil {
		_ = fw.Close()
		status := http.StatusBadRequest
		if errors.Is(err, ota.ErrUploadInProgress) {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorView{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	s.hub.serve(conn, r.RemoteAddr, helloView{
		Endpoint: s.cell.Snapshot(),
		OTA:      s.session.Snapshot(),
	})
}

// spooledFirmware is a temporary copy of an uploaded image. Closing it
// removes the file.
type spooledFirmware struct {
	*os.File
	name string
	size int64
}

func (f *spooledFirmware) Close() error {
	err := f.File.Close()
	_ = os.Remove(f.File.Name())
	return err
}

func spool(r io.Reader, name string, limit int64) (*spooledFirmware, error) {
	tmp, err := os.CreateTemp("", "espctl-firmware-*.bin")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	fw := &spooledFirmware{File: tmp, name: name}

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to read firmware: %w", err)
	}
	if n > limit {
		_ = fw.Close()
		return nil, fmt.Errorf("firmware exceeds %d bytes", limit)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = fw.Close()
		return nil, err
	}
	fw.size = n
	return fw, nil
}

func ledID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err == nil {
		err = deviceapi.ValidateLEDID(id)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: fmt.Sprintf("invalid LED id %q", r.PathValue("id"))})
		return 0, false
	}
	return id, true
}

// writeDeviceError maps device failures to gateway statuses. Validation
// failures are the caller's fault.
func writeDeviceError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case deviceapi.IsValidationError(err):
		status = http.StatusBadRequest
	case deviceapi.IsNetworkError(err):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorView{
		Error: deviceapi.GetShortErrorMessage(err),
		Hint:  deviceapi.GetTroubleshootingHint(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

// statusRecorder captures the status code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

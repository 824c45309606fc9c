package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/discovery"
	"github.com/espctl/espctl/internal/endpoint"
	"github.com/espctl/espctl/internal/logging"
	"github.com/espctl/espctl/internal/ota"
	"go.uber.org/zap"
)

// DefaultAddr is where the panel listens unless configured otherwise
const DefaultAddr = "127.0.0.1:8088"

// ShutdownTimeout bounds graceful shutdown
const ShutdownTimeout = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Addr string

	// MaxFirmwareSize bounds a firmware upload received from a browser
	MaxFirmwareSize int64
}

// Server is the local control panel. It owns the OTA session for the
// device it serves and rediscovers the device after each update.
type Server struct {
	config   *Config
	cell     *endpoint.Cell
	client   *deviceapi.Client
	scanner  *discovery.Scanner
	session  *ota.Session
	uploader *ota.Uploader
	hub      *Hub

	httpServer *http.Server
	listener   net.Listener

	// ctx outlives requests; background uploads and rediscovery use it
	ctx    context.Context
	cancel context.CancelFunc

	scanMu sync.Mutex
}

// New creates a Server. scanner may be nil, in which case /api/scan and
// post-update rediscovery are unavailable.
func New(config *Config, cell *endpoint.Cell, client *deviceapi.Client, scanner *discovery.Scanner) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.MaxFirmwareSize <= 0 {
		config.MaxFirmwareSize = DefaultMaxFirmwareSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		cell:    cell,
		client:  client,
		scanner: scanner,
		session: ota.NewSession(),
		hub:     NewHub(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.uploader = ota.NewUploader(client, s.session, ota.RestartFunc(s.rediscover))

	cell.Subscribe(func(oldURL, newURL string) {
		s.hub.Broadcast(MessageEndpoint, endpointView{Endpoint: newURL, Previous: oldURL})
	})
	s.session.Subscribe(func(ev ota.Event) {
		s.hub.Broadcast(MessageOTA, ev)
	})

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Session returns the OTA session the panel drives
func (s *Server) Session() *ota.Session {
	return s.session
}

// Uploader returns the panel's firmware uploader
func (s *Server) Uploader() *ota.Uploader {
	return s.uploader
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen binds the configured address. It is separate from Serve so the
// caller can print the bound address first.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start serves until SIGINT or SIGTERM and then shuts down gracefully.
func (s *Server) Start() error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}

	logging.Info("Starting control panel",
		zap.String("addr", s.listener.Addr().String()),
		zap.String("endpoint", s.cell.Snapshot()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping control panel...")
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return s.Shutdown(ctx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting requests, disconnects websocket clients and
// cancels background work. An upload in flight is abandoned.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down control panel...")

	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.uploader.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, abandoning background work")
	}

	logging.Sync()
	return err
}

// rediscover runs after a completed reboot countdown. The device comes back
// with the new image and may have a new address.
func (s *Server) rediscover() {
	s.hub.Broadcast(MessageRestart, endpointView{Endpoint: s.cell.Snapshot()})
	if s.scanner == nil {
		return
	}
	report, err := s.locate(s.ctx)
	if err != nil {
		logging.Warn("Rediscovery after update failed", zap.Error(err))
		return
	}
	logging.Info("Rediscovery after update finished",
		zap.Bool("found", report.Found),
		zap.String("endpoint", s.cell.Snapshot()),
	)
}

var errScanBusy = errors.New("a scan is already running")

// locate runs at most one scan at a time.
func (s *Server) locate(ctx context.Context) (*discovery.Report, error) {
	if !s.scanMu.TryLock() {
		return nil, errScanBusy
	}
	defer s.scanMu.Unlock()
	return s.scanner.Locate(ctx, s.cell)
}

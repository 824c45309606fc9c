package ota

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/logging"
	"go.uber.org/zap"
)

// Defaults for the polls issued after the last byte left
const (
	DefaultSettlePolls    = 3
	DefaultSettleInterval = time.Second
)

// FirmwareClient is the subset of deviceapi.Client the uploader uses
type FirmwareClient interface {
	StatusClient
	UploadFirmware(ctx context.Context, name string, r io.Reader, size int64, onProgress deviceapi.ProgressFunc) error
}

// Uploader starts uploads and wires their progress to status polls.
type Uploader struct {
	Client    FirmwareClient
	Session   *Session
	Restarter Restarter
	NewTicker TickerFactory

	// SettlePolls is how many extra polls run, SettleInterval apart, when
	// the upload has ended and the device has not answered 1 or -1 yet
	SettlePolls    int
	SettleInterval time.Duration

	wg        sync.WaitGroup
	countdown sync.Mutex
	counting  bool
}

// NewUploader creates an uploader over client reporting into session
func NewUploader(client FirmwareClient, session *Session, restarter Restarter) *Uploader {
	return &Uploader{
		Client:         client,
		Session:        session,
		Restarter:      restarter,
		NewTicker:      NewRealTicker,
		SettlePolls:    DefaultSettlePolls,
		SettleInterval: DefaultSettleInterval,
	}
}

// Start uploads the file at path. Preconditions are checked before any
// request: a missing path yields ErrNoFile, a busy session
// ErrUploadInProgress. The upload itself runs in the background.
func (u *Uploader) Start(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrNoFile
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoFile, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: %s is not a firmware image", ErrNoFile, path)
	}
	if u.Session.Snapshot().Phase.Active() {
		return ErrUploadInProgress
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoFile, err)
	}
	if err := u.StartReader(ctx, filepath.Base(path), f, info.Size()); err != nil {
		_ = f.Close()
		return err
	}
	return nil
}

// StartReader uploads size bytes from r under name. If r is an io.Closer
// it is closed when the upload ends. A non-positive size uploads without
// progress-driven polling.
func (u *Uploader) StartReader(ctx context.Context, name string, r io.Reader, size int64) error {
	if r == nil || strings.TrimSpace(name) == "" {
		return ErrNoFile
	}
	if err := u.Session.Begin(size); err != nil {
		return err
	}

	logging.Info("Firmware upload started", zap.String("file", name), zap.Int64("bytes", size))

	u.wg.Add(1)
	go u.run(ctx, name, r, size)
	return nil
}

// Wait blocks until the upload and any countdown it started have finished.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) run(ctx context.Context, name string, r io.Reader, size int64) {
	defer u.wg.Done()
	if c, ok := r.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	poller := &Poller{Client: u.Client, Session: u.Session}

	err := u.Client.UploadFirmware(ctx, name, r, size, func(sent, total int64) {
		if u.Session.ProgressTick(sent, total) {
			u.poll(ctx, poller)
		}
	})
	u.Session.UploadFinished(err)
	if err != nil {
		logging.Warn("Firmware upload failed", zap.String("file", name), zap.Error(err))
		return
	}

	for i := 0; i < u.SettlePolls && u.Session.Snapshot().Phase == PhasePending; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.SettleInterval):
		}
		u.poll(ctx, poller)
	}
}

func (u *Uploader) poll(ctx context.Context, poller *Poller) {
	res, _ := poller.PollStatus(ctx)
	if res.CountdownStarted {
		u.startCountdown()
	}
}

// startCountdown runs at most one countdown per session.
func (u *Uploader) startCountdown() {
	u.countdown.Lock()
	defer u.countdown.Unlock()
	if u.counting {
		return
	}
	u.counting = true

	cd := NewCountdown(u.Session, RestartFunc(func() {
		u.countdown.Lock()
		u.counting = false
		u.countdown.Unlock()
		if u.Restarter != nil {
			u.Restarter.Restart()
		}
	}))
	if u.NewTicker != nil {
		cd.NewTicker = u.NewTicker
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		cd.Run()
	}()
}

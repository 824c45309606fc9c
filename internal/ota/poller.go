package ota

import (
	"context"

	"github.com/espctl/espctl/internal/deviceapi"
	"github.com/espctl/espctl/internal/logging"
	"go.uber.org/zap"
)

// StatusClient performs one /OTAstatus request
type StatusClient interface {
	OTAStatus(ctx context.Context) (*deviceapi.OTAStatus, error)
}

// PollResult is the outcome of one PollStatus call.
type PollResult struct {
	Status           deviceapi.StatusCode
	Firmware         deviceapi.FirmwareIdentity
	CountdownStarted bool
}

// Poller feeds status answers into a Session.
type Poller struct {
	Client  StatusClient
	Session *Session
}

// PollStatus issues one status request and blocks until it is answered or
// fails. A transport failure is recorded on the session and returned; the
// session phase does not change.
func (p *Poller) PollStatus(ctx context.Context) (PollResult, error) {
	st, err := p.Client.OTAStatus(ctx)
	if err != nil {
		logging.Debug("OTA status poll failed", zap.Error(err))
		p.Session.PollFailure(err)
		return PollResult{Status: deviceapi.StatusPending}, err
	}

	started := p.Session.StatusResponse(st)
	logging.Debug("OTA status polled",
		zap.String("status", st.Status().String()),
		zap.String("firmware", st.Firmware().String()),
	)
	return PollResult{
		Status:           st.Status(),
		Firmware:         st.Firmware(),
		CountdownStarted: started,
	}, nil
}

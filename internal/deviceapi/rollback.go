package deviceapi

import (
	"context"
	"fmt"
	"time"

	"github.com/espctl/espctl/internal/logging"
	"go.uber.org/zap"
)

// NetworkSnapshot is the credential pair stored on the device before a change
type NetworkSnapshot struct {
	Credentials NetworkCredentials
	Timestamp   time.Time
}

// NetworkChangeResult describes the outcome of ChangeNetwork
type NetworkChangeResult struct {
	// Success is true when the new credentials were stored and read back
	Success bool

	// RolledBack is true when verification failed and the previous
	// credentials were written again
	RolledBack bool

	// Previous is the snapshot taken before the change; nil if it could
	// not be read
	Previous *NetworkSnapshot

	Error error
}

// SnapshotNetwork reads the credentials currently stored on the device
func (c *Client) SnapshotNetwork(ctx context.Context) (*NetworkSnapshot, error) {
	creds, err := c.GetNetwork(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch network configuration for snapshot: %w", err)
	}
	return &NetworkSnapshot{Credentials: *creds, Timestamp: time.Now()}, nil
}

// ChangeNetwork stores creds, reads them back and, if the SSID does not
// match, writes the previous credentials again. A previous pair that does
// not pass validation (a factory-blank SSID, say) is not restored.
func (c *Client) ChangeNetwork(ctx context.Context, creds *NetworkCredentials) *NetworkChangeResult {
	result := &NetworkChangeResult{}

	snapshot, err := c.SnapshotNetwork(ctx)
	if err != nil {
		result.Error = err
		return result
	}
	result.Previous = snapshot

	if err := c.SetNetwork(ctx, creds); err != nil {
		result.Error = err
		return result
	}

	verifyErr := c.VerifyNetwork(ctx, creds)
	if verifyErr == nil {
		result.Success = true
		return result
	}
	result.Error = verifyErr

	if errs := ValidateNetworkCredentials(&snapshot.Credentials); len(errs) > 0 {
		logging.Warn("Previous network configuration not restorable",
			zap.String("ssid", snapshot.Credentials.SSID),
			zap.Error(errs[0]),
		)
		return result
	}
	if err := c.SetNetwork(ctx, &snapshot.Credentials); err != nil {
		result.Error = fmt.Errorf("%w (rollback failed: %v)", verifyErr, err)
		return result
	}
	result.RolledBack = true
	logging.Info("Network configuration rolled back",
		zap.String("ssid", snapshot.Credentials.SSID),
		zap.Time("snapshot_taken", snapshot.Timestamp),
	)
	return result
}

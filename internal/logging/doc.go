// Package logging provides structured logging for espctl.
//
// This package wraps a package-global zap logger with convenience functions
// for the log lines the discovery scanner, the OTA session and the local
// control panel emit.
//
// # Log Levels
//
//   - Debug: Per-probe results, batch timings, raw status payloads
//   - Info: Endpoint changes, confirmed devices, OTA phase transitions
//   - Warn: Status poll transport failures, panel client drops
//   - Error: Startup failures of the control panel
//
// # Silent By Default
//
// CLI output belongs to the user. Logging stays disabled until a level is
// given, either through --log-level or the ESPCTL_LOG_LEVEL environment
// variable:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Logs go to stderr in console format so they never interleave with
// command output written to stdout.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once Initialize has
// returned. Initialize and SetLogger themselves are meant to be called
// during startup only.
package logging

// Package ui renders espctl's terminal output.
//
// Most commands print once and exit: a Header naming the operation, an
// optional Progress step list and a Result box. These are plain strings
// built with Lipgloss and written through a Printer.
//
// The one long-running view is the firmware update. OTAWatchModel is a
// Bubble Tea model fed by an EventFeed subscribed to an ota.Session; it
// draws upload progress, the device's verdict and the reboot countdown, and
// quits when the session fails or the countdown ends. PlainReporter prints
// the same milestones as lines for non-interactive output.
//
// # Logging Integration
//
// zap logging is silent unless ESPCTL_LOG_LEVEL is set, so the curated
// output here is not interleaved with log lines by default.
package ui

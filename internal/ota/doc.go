// Package ota drives an over-the-air firmware update and tracks its outcome.
//
// The device exposes no push channel. Progress of the upload itself is
// known locally, but whether the image was accepted is only learned by
// asking /OTAstatus. Every progress tick with a known length therefore
// triggers one blocking status poll, and the answers drive a Session:
//
//	Idle ──Begin──▶ Uploading ──upload done──▶ Pending
//	                   │                          │
//	                   ├──── status 1 ────────────┴──▶ Counting ──10 ticks──▶ Done
//	                   └──── status -1 / transport ───▶ Failed
//
// Counting always runs to completion. When it reaches zero the ticker is
// stopped and the Restarter runs exactly once; callers use it to re-resolve
// the device, which reboots into the new image.
//
// A status poll that fails in transport is recorded as the session's
// LastPollError and published as an event. It does not change the phase:
// the next tick polls again. A device-reported -1 is terminal for the
// session; a new upload must be started by hand.
package ota

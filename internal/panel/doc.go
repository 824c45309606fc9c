// Package panel serves a local control panel for the device.
//
// The panel is a small HTTP server meant for localhost. It proxies LED
// calls through deviceapi, runs subnet discovery on demand, accepts a
// firmware image and drives an ota.Session for it, and pushes endpoint and
// OTA events to browsers over a websocket.
//
// # Routes
//
//	GET  /                        minimal HTML page
//	GET  /api/endpoint            current device endpoint
//	POST /api/scan                run discovery; the endpoint moves only on success
//	GET  /api/leds/{id}           LED state (ids 1 and 2)
//	POST /api/leds/{id}/toggle    toggle an LED
//	GET  /api/ota                 OTA session snapshot
//	POST /api/ota                 multipart upload, field "file"
//	GET  /ws                      JSON event stream
//
// # Events
//
// Every websocket frame is {"type", "data", "ts"}. A client first receives
// "hello" with the endpoint and OTA state, then "endpoint" on every endpoint
// change, "ota" for every session event and "restart" when the reboot
// countdown ends. After a restart the server runs discovery again so the
// endpoint follows the device.
//
// # Graceful Shutdown
//
// Start handles SIGINT and SIGTERM: the HTTP server stops accepting
// requests, websocket clients are disconnected and background work is
// cancelled.
package panel

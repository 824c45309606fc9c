// Package deviceapi provides an HTTP client for the device's local API.
//
// The device serves a small JSON API for its two LEDs, its station WiFi
// credentials, and its own address, plus the two OTA endpoints used to flash
// new firmware:
//
//	GET  /api/config/ip_addr        {"ip": "192.168.0.37"}
//	GET  /api/leds/{id}             {"id": 1, "state": "on"}
//	POST /api/leds/{id}/toggle      {"id": 1, "state": "off"}
//	GET  /api/config/network        {"ssid": "...", "password": "..."}
//	POST /api/config/network        {"ssid": "...", "password": "..."}
//	POST /OTAupdate                 multipart/form-data, field "file"
//	POST /OTAstatus                 {"ota_update_status": 1, "compile_date": ..., "compile_time": ...}
//
// # Usage Example
//
//	cell := endpoint.MustNew("")
//	client := deviceapi.NewClient(cell)
//
//	led, err := client.ToggleLED(ctx, deviceapi.LEDOne)
//	if err != nil {
//	    fmt.Println(deviceapi.GetShortErrorMessage(err))
//	    return
//	}
//	fmt.Println("LED 1 is", led.State)
//
// # Endpoint
//
// The client does not own the device address. It reads the shared
// endpoint.Cell once per call, so a discovery run that replaces the address
// takes effect on the next call without touching in-flight requests.
//
// # Error Handling
//
// All failures are returned as *DeviceError values carrying an ErrorType.
// Nothing is retried automatically; IsRetryable only tells the caller whether
// asking again by hand might help.
package deviceapi

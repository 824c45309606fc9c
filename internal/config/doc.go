// Package config provides user configuration management for espctl.
//
// This package manages a YAML-based configuration file that stores scan
// preferences and the last endpoint and firmware identity seen for the
// device. The configuration follows OS-specific conventions for storage
// location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/espctl/config.yaml or $HOME/.config/espctl/config.yaml
//   - macOS: $HOME/.config/espctl/config.yaml
//   - Windows: %LOCALAPPDATA%\espctl\config.yaml
//
// # Security
//
// IMPORTANT: This package NEVER stores the device's WiFi credentials. They
// are only ever sent to the device.
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	registry.RecordEndpoint("http://192.168.0.37")
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config

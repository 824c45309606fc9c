package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "espctl"
	configFile = "config.yaml"

	// registryVersion is the only file layout this build reads
	registryVersion = 1
)

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
	globalRegistryErr  error

	// fileMutex serializes writes from concurrent Save calls
	fileMutex sync.Mutex
)

const fileHeader = `# espctl configuration file
# Scan preferences and the last endpoint and firmware seen for the device.
#
# Security Note: the device's WiFi credentials are NEVER stored in this file.
#
# Location: %s

`

// GetConfigDir returns the directory holding the config file:
//   - Windows: %LOCALAPPDATA%\espctl
//   - Linux: $XDG_CONFIG_HOME/espctl, falling back to $HOME/.config/espctl
//   - macOS and other Unix: $HOME/.config/espctl
func GetConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", errors.New("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(profile, "AppData", "Local", appName), nil
	}

	if runtime.GOOS != "darwin" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// GetConfigPath returns the full path of the config file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

func ensureConfigDir() error {
	dir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// LoadRegistry loads the config file once per process and returns the
// shared instance. A missing file yields the defaults.
func LoadRegistry() (*Registry, error) {
	globalRegistryOnce.Do(func() {
		globalRegistry, globalRegistryErr = loadRegistryFromDisk()
	})
	return globalRegistry, globalRegistryErr
}

func loadRegistryFromDisk() (*Registry, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadRegistryFrom(path)
}

// LoadRegistryFrom reads the registry at path, fills unset preferences with
// defaults and validates them.
func LoadRegistryFrom(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var registry Registry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if registry.Version != registryVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", registry.Version, registryVersion)
	}

	if registry.Preferences == nil {
		registry.Preferences = NewPreferences()
	}
	registry.Preferences.applyDefaults()
	if err := registry.Preferences.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preferences in %s: %w", path, err)
	}
	return &registry, nil
}

// Save writes the registry to the config path, creating the directory
func (r *Registry) Save() error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := ensureConfigDir(); err != nil {
		return fmt.Errorf("failed to ensure config directory exists: %w", err)
	}
	path, err := GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	return r.SaveTo(path)
}

// SaveTo writes the registry to path. The content goes to path+".tmp"
// first and is renamed over path, so a crash never leaves half a file.
func (r *Registry) SaveTo(path string) error {
	body, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data := append([]byte(fmt.Sprintf(fileHeader, path)), body...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// CreateDefaultConfig writes a config file holding only defaults and
// returns its path. An existing file is kept unless force is set.
func CreateDefaultConfig(force bool) (string, error) {
	path, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config file already exists: %s", path)
	}
	return path, NewRegistry().Save()
}

// Package config loads the daemon settings file and resolves where the bridge
// keeps its files on each platform.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

const (
	appDirName       = "POSBridge"
	settingsFileName = "config.json"
	devicesFileName  = "devices.json"
)

// Settings is the persisted daemon configuration.
type Settings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`

	ScannerEnabled   bool     `json:"scanner_enabled"`
	ScannerTimeoutMS int      `json:"scanner_timeout_ms"`
	ScannerMinLength int      `json:"scanner_min_length"`
	ScannerDevices   []string `json:"scanner_devices,omitempty"`

	DiscoveryIntervalS int      `json:"discovery_interval_s"`
	ProbeTimeoutMS     int      `json:"probe_timeout_ms"`
	NetworkPrinters    []string `json:"network_printers,omitempty"`
	MDNSEnabled        bool     `json:"mdns_enabled"`
	BluetoothEnabled   bool     `json:"bluetooth_enabled"`

	QueueDepth     int `json:"queue_depth"`
	DialTimeoutMS  int `json:"dial_timeout_ms"`
	WriteTimeoutMS int `json:"write_timeout_ms"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		Host:               "127.0.0.1",
		Port:               12321,
		LogLevel:           "info",
		ScannerEnabled:     true,
		ScannerTimeoutMS:   100,
		ScannerMinLength:   1,
		DiscoveryIntervalS: 15,
		ProbeTimeoutMS:     3000,
		MDNSEnabled:        true,
		BluetoothEnabled:   true,
		QueueDepth:         8,
		DialTimeoutMS:      5000,
		WriteTimeoutMS:     10000,
	}
}

// Addr returns host:port for the HTTP listener.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s Settings) ScannerTimeout() time.Duration {
	return time.Duration(s.ScannerTimeoutMS) * time.Millisecond
}

func (s Settings) DiscoveryInterval() time.Duration {
	return time.Duration(s.DiscoveryIntervalS) * time.Second
}

func (s Settings) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutMS) * time.Millisecond
}

func (s Settings) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutMS) * time.Millisecond
}

func (s Settings) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// Validate rejects settings the daemon cannot run with.
func (s Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.Host == "" {
		return errors.New("host is required")
	}
	if s.QueueDepth < 0 {
		return fmt.Errorf("invalid queue_depth: %d", s.QueueDepth)
	}
	if s.DiscoveryIntervalS <= 0 {
		return fmt.Errorf("invalid discovery_interval_s: %d", s.DiscoveryIntervalS)
	}
	return nil
}

// Load reads settings from dir. A missing file yields the defaults; fields
// absent from the file keep their default values.
func Load(dir string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(filepath.Join(dir, settingsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings: %w", err)
	}
	return s, nil
}

// Save writes settings to dir, creating it if needed.
func Save(dir string, s Settings) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, settingsFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// Init writes the default settings to dir when no settings file exists yet,
// so there is a file to edit. It reports whether it wrote one.
func Init(dir string) (bool, error) {
	_, err := os.Stat(SettingsPath(dir))
	if err == nil {
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat settings: %w", err)
	}
	if err := Save(dir, Default()); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyEnv overrides settings from POSBRIDGE_* environment variables.
func (s *Settings) ApplyEnv() error {
	if v := os.Getenv("POSBRIDGE_HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("POSBRIDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POSBRIDGE_PORT %q: %w", v, err)
		}
		s.Port = port
	}
	if v := os.Getenv("POSBRIDGE_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	return nil
}

// Dir returns the platform application-data directory for the bridge.
// POSBRIDGE_CONFIG_DIR takes precedence.
func Dir() (string, error) {
	if v := os.Getenv("POSBRIDGE_CONFIG_DIR"); v != "" {
		return v, nil
	}

	var base string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, "AppData", "Roaming")
		}
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appDirName), nil
}

// DevicesPath returns the registry store location inside dir.
func DevicesPath(dir string) string {
	return filepath.Join(dir, devicesFileName)
}

// SettingsPath returns the settings file inside dir.
func SettingsPath(dir string) string {
	return filepath.Join(dir, settingsFileName)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lansend"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "LANSEND_DATA_DIR"
	// TransportStdio runs the backend as a child process over its stdio.
	TransportStdio = "stdio"
	// TransportWebSocket dials an already running backend.
	TransportWebSocket = "websocket"
	// DefaultBackendPath is the backend executable looked up on PATH.
	DefaultBackendPath = "lansend-backend"
	// DefaultBackendURL is the local websocket endpoint of a running backend.
	DefaultBackendURL = "ws://127.0.0.1:53318/ipc"
	// DefaultHistoryRetentionDays bounds how long finished transfers are kept.
	DefaultHistoryRetentionDays = 30
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ErrInvalidConfig indicates a config value that cannot be used.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// ClientConfig contains persistent client settings.
type ClientConfig struct {
	ClientID    string   `json:"client_id"`
	DeviceName  string   `json:"device_name"`
	Transport   string   `json:"transport"`
	BackendPath string   `json:"backend_path"`
	BackendArgs []string `json:"backend_args,omitempty"`
	BackendURL  string   `json:"backend_url,omitempty"`
	LogLevel    string   `json:"log_level"`
	LogFormat   string   `json:"log_format"`
	// DisableHistory turns off the SQLite transfer history.
	DisableHistory bool `json:"disable_history"`
	// HistoryRetentionDays of 0 keeps history forever.
	HistoryRetentionDays int `json:"history_retention_days"`
}

// Validate checks that the transport settings are usable.
func (c *ClientConfig) Validate() error {
	switch c.Transport {
	case TransportStdio:
		if c.BackendPath == "" {
			return fmt.Errorf("%w: backend_path is required for %s transport", ErrInvalidConfig, TransportStdio)
		}
	case TransportWebSocket:
		if c.BackendURL == "" {
			return fmt.Errorf("%w: backend_url is required for %s transport", ErrInvalidConfig, TransportWebSocket)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	return nil
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANSEND_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		ClientID:             uuid.NewString(),
		DeviceName:           defaultDeviceName(),
		Transport:            TransportStdio,
		BackendPath:          DefaultBackendPath,
		LogLevel:             "info",
		LogFormat:            "text",
		HistoryRetentionDays: DefaultHistoryRetentionDays,
	}
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "LAN Send Device"
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}

	transport := normalizeTransport(cfg.Transport)
	if transport == "" {
		if cfg.BackendURL != "" && cfg.BackendPath == "" {
			transport = TransportWebSocket
		} else {
			transport = TransportStdio
		}
	}
	if cfg.Transport != transport {
		cfg.Transport = transport
		updated = true
	}

	if cfg.Transport == TransportStdio && cfg.BackendPath == "" {
		cfg.BackendPath = DefaultBackendPath
		updated = true
	}
	if cfg.Transport == TransportWebSocket && cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
		updated = true
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		updated = true
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		updated = true
	}

	if cfg.HistoryRetentionDays < 0 {
		cfg.HistoryRetentionDays = 0
		updated = true
	}

	return updated
}

func normalizeTransport(transport string) string {
	switch transport {
	case TransportStdio:
		return TransportStdio
	case TransportWebSocket:
		return TransportWebSocket
	default:
		return ""
	}
}

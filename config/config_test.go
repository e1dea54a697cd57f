package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.ClientID == "" {
		t.Fatalf("expected non-empty client ID")
	}
	if firstCfg.Transport != TransportStdio {
		t.Fatalf("expected default transport %q, got %q", TransportStdio, firstCfg.Transport)
	}
	if firstCfg.BackendPath != DefaultBackendPath {
		t.Fatalf("expected default backend path %q, got %q", DefaultBackendPath, firstCfg.BackendPath)
	}
	if firstCfg.HistoryRetentionDays != DefaultHistoryRetentionDays {
		t.Fatalf("expected retention %d, got %d", DefaultHistoryRetentionDays, firstCfg.HistoryRetentionDays)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.ClientID != firstCfg.ClientID {
		t.Fatalf("expected stable client ID, got %q then %q", firstCfg.ClientID, secondCfg.ClientID)
	}
	if secondCfg.Transport != firstCfg.Transport {
		t.Fatalf("expected stable transport, got %q then %q", firstCfg.Transport, secondCfg.Transport)
	}
}

func TestLoadOrCreateInfersWebSocketTransportFromURL(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &ClientConfig{
		ClientID:             "legacy-client",
		DeviceName:           "Legacy",
		BackendURL:           "ws://127.0.0.1:9000/ipc",
		HistoryRetentionDays: -3,
	}
	if err := Save(cfgPath, legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.Transport != TransportWebSocket {
		t.Fatalf("expected legacy config to normalize to websocket transport, got %q", cfg.Transport)
	}
	if cfg.BackendURL != "ws://127.0.0.1:9000/ipc" {
		t.Fatalf("expected backend URL to be retained, got %q", cfg.BackendURL)
	}
	if cfg.HistoryRetentionDays != 0 {
		t.Fatalf("expected negative retention to normalize to 0, got %d", cfg.HistoryRetentionDays)
	}
	if cfg.ClientID != "legacy-client" {
		t.Fatalf("expected client ID to be retained, got %q", cfg.ClientID)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Transport != TransportWebSocket {
		t.Fatalf("expected normalized config to be persisted, got %q", reloaded.Transport)
	}
}

func TestValidate(t *testing.T) {
	valid := &ClientConfig{Transport: TransportStdio, BackendPath: "/usr/bin/backend"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []*ClientConfig{
		{Transport: TransportStdio},
		{Transport: TransportWebSocket},
		{Transport: "carrier-pigeon", BackendPath: "x"},
	}
	for _, cfg := range cases {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Host != "0.0.0.0" || cfg.Port != 8080 || cfg.Path != "/ctproto" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.StorageBackend != "local" || cfg.LocalStoreDir != "./uploads" {
		t.Fatalf("unexpected storage defaults: %+v", cfg)
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.APIURL != "ws://127.0.0.1:8080/ctproto" {
		t.Fatalf("unexpected api url: %q", cfg.APIURL)
	}
	if cfg.ReconnectDelay != "5s" || cfg.ReconnectBudget != 5 {
		t.Fatalf("unexpected reconnect defaults: %+v", cfg)
	}
}

func TestLoadServerConfigMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Port)
	}
}

func TestLoadServerConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	body := "host = \"10.0.0.5\"\nport = 9090\nstorage_backend = \"azureblob\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Host != "10.0.0.5" || cfg.Port != 9090 || cfg.StorageBackend != "azureblob" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.Path != "/ctproto" {
		t.Fatalf("expected default path to survive, got %q", cfg.Path)
	}
}

func TestLoadServerConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte("port = 9090\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	t.Setenv(EnvPort, "9191")
	t.Setenv(EnvHost, "192.168.1.1")

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != 9191 {
		t.Fatalf("expected env to win over file, got port %d", cfg.Port)
	}
	if cfg.Host != "192.168.1.1" {
		t.Fatalf("expected env host override, got %q", cfg.Host)
	}
}

func TestLoadClientConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "wss://example.invalid/ctproto")
	t.Setenv(EnvReconnectBudget, "9")

	cfg, err := LoadClientConfig("")
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.APIURL != "wss://example.invalid/ctproto" {
		t.Fatalf("unexpected api url: %q", cfg.APIURL)
	}
	if cfg.ReconnectBudget != 9 {
		t.Fatalf("unexpected reconnect budget: %d", cfg.ReconnectBudget)
	}
}

func TestClientConfigAuthRequestPayloadJSON(t *testing.T) {
	cfg := DefaultClientConfig()
	raw, err := cfg.AuthRequestPayloadJSON()
	if err != nil {
		t.Fatalf("AuthRequestPayloadJSON: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("expected empty object for unset payload, got %s", raw)
	}

	cfg.AuthRequestPayload = map[string]any{"token": "abc"}
	raw, err = cfg.AuthRequestPayloadJSON()
	if err != nil {
		t.Fatalf("AuthRequestPayloadJSON: %v", err)
	}
	if string(raw) != `{"token":"abc"}` {
		t.Fatalf("unexpected payload json: %s", raw)
	}
}

// Package config implements CTProto's TOML configuration layer, grounded on
// the onedrive-go sync client's internal/config package: a Config struct
// with `toml` tags, a DefaultConfig seeding layer 0, environment-variable
// overrides, and a final CLI-flag override layer applied by the caller —
// the same four-layer precedence (defaults -> config file -> env -> flags)
// the teacher uses for its drive configuration.
package config

import "encoding/json"

// ServerConfig configures a CTProto server process (spec.md §6).
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	Path string `toml:"path"`

	DisableLogs bool `toml:"disable_logs"`

	// Timer overrides are decoded from the file but not applied: the
	// connection state machine and the reassembler always use their fixed
	// AuthWaitTimeout and IdleTimeout constants.
	AuthWaitTimeout   string `toml:"auth_wait_timeout"`
	UploadIdleTimeout string `toml:"upload_idle_timeout"`

	// StorageBackend selects the internal/store implementation: "local"
	// or "azureblob".
	StorageBackend string `toml:"storage_backend"`
	LocalStoreDir  string `toml:"local_store_dir"`

	AzureServiceURL string `toml:"azure_service_url"`
	AzureContainer  string `toml:"azure_container"`

	HookConcurrency int    `toml:"hook_concurrency"`
	HookStdioFormat string `toml:"hook_stdio_format"`
}

// ClientConfig configures a CTProto client process (spec.md §6).
type ClientConfig struct {
	APIURL string `toml:"api_url"`

	// AuthRequestPayload is an arbitrary TOML table materialized to
	// json.RawMessage, sent verbatim as the "authorize" NewMessage's
	// payload on connect.
	AuthRequestPayload map[string]any `toml:"auth_request_payload"`

	ReconnectDelay  string `toml:"reconnect_delay"`
	ReconnectBudget int    `toml:"reconnect_budget"`

	DisableLogs bool `toml:"disable_logs"`
}

// AuthRequestPayloadJSON re-encodes the decoded TOML table as the
// json.RawMessage the send engine's Config expects.
func (c *ClientConfig) AuthRequestPayloadJSON() (json.RawMessage, error) {
	if len(c.AuthRequestPayload) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(c.AuthRequestPayload)
}

// DefaultServerConfig is layer 0 of the override chain.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		Path:            "/ctproto",
		StorageBackend:  "local",
		LocalStoreDir:   "./uploads",
		HookConcurrency: 10,
	}
}

// DefaultClientConfig is layer 0 of the override chain.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		APIURL:          "ws://127.0.0.1:8080/ctproto",
		ReconnectDelay:  "5s",
		ReconnectBudget: 5,
	}
}

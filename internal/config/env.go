package config

import (
	"os"
	"strconv"
)

// Environment variable names for the env-override layer (spec.md's ambient
// config section: CTPROTO_* overrides), following logger's envLogLevel
// naming convention.
const (
	EnvHost            = "CTPROTO_HOST"
	EnvPort            = "CTPROTO_PORT"
	EnvPath            = "CTPROTO_PATH"
	EnvDisableLogs     = "CTPROTO_DISABLE_LOGS"
	EnvStorageBackend  = "CTPROTO_STORAGE_BACKEND"
	EnvLocalStoreDir   = "CTPROTO_LOCAL_STORE_DIR"
	EnvAzureServiceURL = "CTPROTO_AZURE_SERVICE_URL"
	EnvAzureContainer  = "CTPROTO_AZURE_CONTAINER"

	EnvAPIURL          = "CTPROTO_API_URL"
	EnvReconnectDelay  = "CTPROTO_RECONNECT_DELAY"
	EnvReconnectBudget = "CTPROTO_RECONNECT_BUDGET"
)

func applyServerEnvOverrides(cfg *ServerConfig) {
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv(EnvPath); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv(EnvDisableLogs); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DisableLogs = b
		}
	}
	if v := os.Getenv(EnvStorageBackend); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv(EnvLocalStoreDir); v != "" {
		cfg.LocalStoreDir = v
	}
	if v := os.Getenv(EnvAzureServiceURL); v != "" {
		cfg.AzureServiceURL = v
	}
	if v := os.Getenv(EnvAzureContainer); v != "" {
		cfg.AzureContainer = v
	}
}

func applyClientEnvOverrides(cfg *ClientConfig) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(EnvReconnectDelay); v != "" {
		cfg.ReconnectDelay = v
	}
	if v := os.Getenv(EnvReconnectBudget); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectBudget = n
		}
	}
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ctproto/ctproto-go/internal/config"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds flag values prior to being merged over the TOML/env
// config layers, so main.go can apply the final flag-precedence pass
// (spec.md §6's defaults -> file -> env -> flags chain).
type cliConfig struct {
	configPath  string
	host        string
	port        int
	path        string
	logLevel    string
	showVersion bool

	storageBackend  string
	localStoreDir   string
	azureServiceURL string
	azureContainer  string

	hookStdioFormat string
	hookConcurrency int
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("ctproto-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to a TOML config file (optional)")
	fs.StringVar(&cfg.host, "host", "", "Listen host, overrides config")
	fs.IntVar(&cfg.port, "port", 0, "Listen port, overrides config (0 = use config)")
	fs.StringVar(&cfg.path, "path", "", "WebSocket mount path, overrides config")
	fs.StringVar(&cfg.logLevel, "log.level", "", "Log level: debug|info|warn|error (overrides CTPROTO_LOG_LEVEL)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.StringVar(&cfg.storageBackend, "storage.backend", "", "Upload storage backend: local|azureblob")
	fs.StringVar(&cfg.localStoreDir, "storage.local-dir", "", "Directory for the local storage backend")
	fs.StringVar(&cfg.azureServiceURL, "storage.azure-service-url", "", "Azure Blob service URL")
	fs.StringVar(&cfg.azureContainer, "storage.azure-container", "", "Azure Blob container name")

	fs.StringVar(&cfg.hookStdioFormat, "hook.stdio-format", "", "Enable structured stdio hook output: json|env")
	fs.IntVar(&cfg.hookConcurrency, "hook.concurrency", 0, "Maximum concurrent hook executions (0 = use config)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.logLevel != "" {
		switch cfg.logLevel {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("invalid log.level %q", cfg.logLevel)
		}
	}

	if cfg.storageBackend != "" && cfg.storageBackend != "local" && cfg.storageBackend != "azureblob" {
		return nil, errors.New("storage.backend must be \"local\" or \"azureblob\"")
	}

	return cfg, nil
}

// applyServerFlagOverrides is the final layer of spec.md §6's precedence
// chain: any flag explicitly set on the command line wins over the
// file/env-derived config.
func applyServerFlagOverrides(cfg *config.ServerConfig, cli *cliConfig) {
	if cli.host != "" {
		cfg.Host = cli.host
	}
	if cli.port != 0 {
		cfg.Port = cli.port
	}
	if cli.path != "" {
		cfg.Path = cli.path
	}
	if cli.storageBackend != "" {
		cfg.StorageBackend = cli.storageBackend
	}
	if cli.localStoreDir != "" {
		cfg.LocalStoreDir = cli.localStoreDir
	}
	if cli.azureServiceURL != "" {
		cfg.AzureServiceURL = cli.azureServiceURL
	}
	if cli.azureContainer != "" {
		cfg.AzureContainer = cli.azureContainer
	}
	if cli.hookStdioFormat != "" {
		cfg.HookStdioFormat = cli.hookStdioFormat
	}
	if cli.hookConcurrency != 0 {
		cfg.HookConcurrency = cli.hookConcurrency
	}
}

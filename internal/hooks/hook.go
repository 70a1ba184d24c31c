package hooks

import "context"

// Hook runs in response to a dispatched Event.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config controls hook execution.
type Config struct {
	// Timeout is a duration string (default: 30s). NewManager only checks
	// that it parses and logs a warning if not; it does not bound hook
	// executions, which are limited by each hook's own timeout.
	Timeout string `toml:"timeout"`
	// Concurrency caps in-flight hook executions (default: 10).
	Concurrency int `toml:"concurrency"`
	// StdioFormat enables structured stdio output: "json", "env", or "".
	StdioFormat string `toml:"stdio_format"`
}

// DefaultConfig returns sensible hook execution defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}

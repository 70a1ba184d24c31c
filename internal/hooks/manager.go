package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager registers hooks per event type and dispatches events to them
// concurrently, bounded by a worker pool.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

// NewManager creates a hook manager; a nil logger falls back to slog.Default.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := time.ParseDuration(config.Timeout); err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
	}

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, logger),
	}

	if config.StdioFormat != "" {
		_ = m.EnableStdioOutput(config.StdioFormat)
	}

	return m
}

// RegisterHook adds a hook for the given event type.
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("hooks: cannot register nil hook")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes a hook by id from the given event type.
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	registered := m.hooks[eventType]
	for i, h := range registered {
		if h.ID() == hookID {
			m.hooks[eventType] = append(registered[:i], registered[i+1:]...)
			m.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent dispatches event to every registered hook for its type,
// asynchronously, without blocking the caller. A nil receiver is a no-op so
// callers may wire an optional manager without a nil check at every call
// site.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}

	m.mu.RLock()
	registered := make([]Hook, len(m.hooks[event.Type]))
	copy(registered, m.hooks[event.Type])
	m.mu.RUnlock()

	if m.stdioHook != nil {
		registered = append(registered, m.stdioHook)
	}
	if len(registered) == 0 {
		return
	}

	m.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(registered), "event", event.String())
	for _, h := range registered {
		m.pool.execute(ctx, h, event)
	}
}

// EnableStdioOutput turns on the built-in stdio sink.
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("hooks: unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = NewStdioHook("stdio", format)
	return nil
}

// DisableStdioOutput turns off the built-in stdio sink.
func (m *Manager) DisableStdioOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = nil
}

// GetStats reports registration counts, useful for a server's /debug
// endpoint or startup log line.
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]int)
	total := 0
	for eventType, registered := range m.hooks {
		byType[string(eventType)] = len(registered)
		total += len(registered)
	}

	return map[string]interface{}{
		"event_types":   len(m.hooks),
		"total_hooks":   total,
		"hooks_by_type": byType,
		"stdio_enabled": m.stdioHook != nil,
		"pool_size":     m.pool.size,
	}
}

// Close waits for in-flight hook executions to drain.
func (m *Manager) Close() error {
	if m.pool != nil {
		m.pool.close()
	}
	return nil
}

// executionPool bounds concurrent hook executions.
type executionPool struct {
	workers chan struct{}
	size    int
	mu      sync.Mutex
	active  int
	logger  *slog.Logger
}

func newExecutionPool(size int, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{workers: make(chan struct{}, size), size: size, logger: logger}
}

func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		ep.mu.Lock()
		ep.active++
		ep.mu.Unlock()
		defer func() {
			ep.mu.Lock()
			ep.active--
			ep.mu.Unlock()
		}()

		start := time.Now()
		err := hook.Execute(ctx, event)
		duration := time.Since(start)
		if err != nil {
			ep.logger.Error("hook execution failed", "hook_type", hook.Type(), "hook_id", hook.ID(), "event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
			return
		}
		ep.logger.Debug("hook executed", "hook_type", hook.Type(), "hook_id", hook.ID(), "event_type", event.Type, "duration_ms", duration.Milliseconds())
	}()
}

func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}

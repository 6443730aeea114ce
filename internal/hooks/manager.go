package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager registers hooks per event type and dispatches them asynchronously
// through a bounded execution pool when events fire.
type Manager struct {
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	mu        sync.RWMutex
	pool      *executionPool
	logger    *slog.Logger
	config    Config
}

// NewManager creates a Manager from config, defaulting the logger if nil.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil || timeout <= 0 {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
		timeout = 30 * time.Second
	}

	m := &Manager{
		hooks:  make(map[EventType][]Hook),
		logger: logger,
		config: config,
		pool:   newExecutionPool(config.Concurrency, timeout, logger),
	}
	if config.StdioFormat != "" {
		if err := m.EnableStdioOutput(config.StdioFormat); err != nil {
			logger.Warn("failed to enable stdio hook output", "error", err)
		}
	}
	return m
}

// RegisterHook adds hook to the list fired for eventType.
func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("cannot register nil hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

// UnregisterHook removes the hook with hookID from eventType, reporting
// whether a hook was actually removed.
func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hooks := m.hooks[eventType]
	for i, h := range hooks {
		if h.ID() == hookID {
			m.hooks[eventType] = append(hooks[:i], hooks[i+1:]...)
			m.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent fires every hook registered for event.Type, plus the stdio
// hook if enabled, each in its own goroutine bounded by the execution pool.
func (m *Manager) TriggerEvent(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	m.mu.RLock()
	hooks := make([]Hook, len(m.hooks[event.Type]))
	copy(hooks, m.hooks[event.Type])
	stdio := m.stdioHook
	m.mu.RUnlock()

	if stdio != nil {
		hooks = append(hooks, stdio)
	}
	if len(hooks) == 0 {
		return
	}

	m.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(hooks), "event", event.String())
	for _, h := range hooks {
		m.pool.execute(ctx, h, event)
	}
}

// EnableStdioOutput turns on the built-in stdio hook in the given format
// ("json" or "env"), firing for every event regardless of type.
func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = NewStdioHook("stdio", format)
	m.logger.Info("stdio hook output enabled", "format", format)
	return nil
}

// DisableStdioOutput turns off the built-in stdio hook.
func (m *Manager) DisableStdioOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = nil
}

// Close drains the execution pool, waiting for any in-flight hook
// executions to finish before returning.
func (m *Manager) Close() error {
	if m.pool != nil {
		m.pool.close()
	}
	return nil
}

// executionPool bounds the number of hook executions running concurrently
// using a buffered channel as a counting semaphore.
type executionPool struct {
	workers chan struct{}
	timeout time.Duration
	logger  *slog.Logger
}

func newExecutionPool(size int, timeout time.Duration, logger *slog.Logger) *executionPool {
	if size <= 0 {
		size = 10
	}
	return &executionPool{workers: make(chan struct{}, size), timeout: timeout, logger: logger}
}

// execute runs hook against event in its own goroutine, blocking on a free
// semaphore slot before starting so at most cap(workers) hooks run at once.
func (ep *executionPool) execute(ctx context.Context, hook Hook, event Event) {
	go func() {
		ep.workers <- struct{}{}
		defer func() { <-ep.workers }()

		runCtx, cancel := context.WithTimeout(ctx, ep.timeout)
		defer cancel()

		start := time.Now()
		err := hook.Execute(runCtx, event)
		duration := time.Since(start)

		if err != nil {
			ep.logger.Error("hook execution failed", "hook_type", hook.Type(), "hook_id", hook.ID(),
				"event_type", event.Type, "duration_ms", duration.Milliseconds(), "error", err)
			return
		}
		ep.logger.Debug("hook executed successfully", "hook_type", hook.Type(), "hook_id", hook.ID(),
			"event_type", event.Type, "duration_ms", duration.Milliseconds())
	}()
}

// close blocks until every in-flight execution releases its slot, by
// acquiring all of them itself.
func (ep *executionPool) close() {
	for i := 0; i < cap(ep.workers); i++ {
		ep.workers <- struct{}{}
	}
}

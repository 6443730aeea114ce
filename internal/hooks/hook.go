package hooks

import "context"

// Hook is a handler invoked when an event it is registered for occurs.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config configures a Manager's execution pool and optional stdio output.
type Config struct {
	// Timeout bounds a single hook execution (default: 30s).
	Timeout string `yaml:"timeout"`
	// Concurrency caps the number of hook executions in flight at once
	// (default: 10).
	Concurrency int `yaml:"concurrency"`
	// StdioFormat, if non-empty, enables a built-in stdio hook firing for
	// every event in this format: "json" or "env".
	StdioFormat string `yaml:"stdio_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}

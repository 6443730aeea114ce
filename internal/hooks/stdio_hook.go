package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook writes event data to stderr in a structured format, for
// operators tailing the process log rather than wiring a script.
type StdioHook struct {
	id     string
	format string // "json" or "env"
	output *os.File
}

// NewStdioHook creates a stdio hook writing in the given format.
func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

// SetOutput overrides the output destination (default: stderr).
func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: marshal event: %w", h.id, err)
	}
	if _, err := fmt.Fprintf(h.output, "TELEMETRY_EVENT: %s\n", data); err != nil {
		return fmt.Errorf("stdio hook %s: write json: %w", h.id, err)
	}
	return nil
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# telemetry event: " + string(event.Type),
		fmt.Sprintf("TELEMETRY_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("TELEMETRY_TIMESTAMP=%d", event.Timestamp),
	}
	if event.MetricID != "" {
		lines = append(lines, "TELEMETRY_METRIC_ID="+event.MetricID)
	}
	for key, value := range event.Data {
		lines = append(lines, "TELEMETRY_"+strings.ToUpper(key)+fmt.Sprintf("=%v", value))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: write env line: %w", h.id, err)
		}
	}
	return nil
}

package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ShellHook runs a script, passing event fields as environment variables.
type ShellHook struct {
	id       string
	command  string
	args     []string
	env      []string
	passJSON bool
	timeout  time.Duration
}

// NewShellHook creates a hook that runs scriptPath via /bin/bash.
func NewShellHook(id, scriptPath string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: "/bin/bash", args: []string{scriptPath}, timeout: timeout}
}

// NewShellHookWithCommand creates a hook running an arbitrary command.
func NewShellHookWithCommand(id, command string, args []string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: command, args: args, timeout: timeout}
}

// SetPassJSON enables writing the event as JSON on the script's stdin.
func (h *ShellHook) SetPassJSON(passJSON bool) *ShellHook {
	h.passJSON = passJSON
	return h
}

// SetEnv sets additional environment variables for the script.
func (h *ShellHook) SetEnv(env []string) *ShellHook {
	h.env = env
	return h
}

func (h *ShellHook) Execute(ctx context.Context, event Event) error {
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, h.command, h.args...)
	cmd.Env = append(cmd.Env, h.buildEnvironment(event)...)

	if h.passJSON {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("shell hook %s: create stdin pipe: %w", h.id, err)
		}
		go func() {
			defer stdin.Close()
			json.NewEncoder(stdin).Encode(event)
		}()
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell hook %s: execution failed: %w", h.id, err)
	}
	return nil
}

func (h *ShellHook) Type() string { return "shell" }
func (h *ShellHook) ID() string   { return h.id }

func (h *ShellHook) buildEnvironment(event Event) []string {
	env := make([]string, 0, len(h.env)+4+len(event.Data))
	env = append(env, h.env...)
	env = append(env, "TELEMETRY_EVENT_TYPE="+string(event.Type))
	env = append(env, fmt.Sprintf("TELEMETRY_TIMESTAMP=%d", event.Timestamp))
	if event.MetricID != "" {
		env = append(env, "TELEMETRY_METRIC_ID="+event.MetricID)
	}
	for key, value := range event.Data {
		env = append(env, fmt.Sprintf("TELEMETRY_%s=%v", key, value))
	}
	return env
}

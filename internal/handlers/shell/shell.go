package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"taskforge/internal/domain"
)

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Executor runs a shell command described by the task input. The
// command inherits the task's context, so cancellation kills it.
func Executor(ctx context.Context, task domain.Task) (any, error) {
	var c Cmd
	if err := decodeInput(task.Input, &c); err != nil {
		return nil, fmt.Errorf("invalid shell input: %w", err)
	}
	if c.Command == "" {
		return nil, fmt.Errorf("invalid shell input: command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	return string(out), nil
}

// decodeInput round-trips the opaque input through JSON so both typed
// structs and generic maps from the HTTP surface decode the same way.
func decodeInput(in any, v any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

package tools

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"
)

// ============================================================================
// ExecTool
// ============================================================================

// ExecTool executes shell commands. Invocations must pass the approval gate;
// commands invoking sudo are routed to the sudo callback instead.
type ExecTool struct {
	workspace string
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use for running programs, scripts, git commands, etc."
}

func (t *ExecTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute.",
			},
			"workdir": map[string]any{
				"type":        "string",
				"description": "Optional working directory. Defaults to workspace.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds. Defaults to 60.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Capabilities() []string { return []string{"process", "filesystem"} }

func (t *ExecTool) RequiresApproval() bool { return true }

// SudoCommand reports the privileged command when the input invokes sudo.
func (t *ExecTool) SudoCommand(input json.RawMessage) (string, bool) {
	var a execArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return "", false
	}
	cmd := strings.TrimSpace(a.Command)
	if cmd == "sudo" || strings.HasPrefix(cmd, "sudo ") {
		return cmd, true
	}
	return "", false
}

// execArgs are the arguments for exec.
type execArgs struct {
	Command string `json:"command"`
	Workdir string `json:"workdir,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// Execute runs the tool.
func (t *ExecTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a execArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 60
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	command := strings.TrimSpace(a.Command)
	rt := RuntimeContextFrom(ctx)

	// Sudo invocations read the password from stdin so no tty prompt hangs
	// the run. The password comes from the runtime context, granted by the
	// sudo callback.
	var stdin string
	if _, isSudo := t.SudoCommand(input); isSudo {
		if rt.SudoPassword == "" {
			return Failure("sudo requested but no password is available")
		}
		command = "sudo -S " + strings.TrimSpace(strings.TrimPrefix(command, "sudo"))
		stdin = rt.SudoPassword + "\n"
	}

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)

	if a.Workdir != "" {
		cmd.Dir = expandPath(a.Workdir)
	} else if t.workspace != "" {
		cmd.Dir = t.workspace
	}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	output, err := cmd.CombinedOutput()

	if execCtx.Err() == context.DeadlineExceeded {
		return Failure("command timed out after %d seconds\nPartial output:\n%s", timeout, string(output))
	}

	if err != nil {
		// Output often explains the failure, keep it.
		return Failure("command failed: %v\nOutput:\n%s", err, string(output))
	}

	result := string(output)
	if result == "" {
		return Success("(no output)")
	}

	const maxLen = 50000
	if len(result) > maxLen {
		result = result[:maxLen] + "\n... (output truncated)"
	}

	return Success(result)
}

var _ SudoAware = (*ExecTool)(nil)

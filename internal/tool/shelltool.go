package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/corvidrun/agentcore/internal/agentmsg"
	"github.com/corvidrun/agentcore/internal/shell"
)

// ShellTool is the one concrete tool.Tool this module ships: an in-process
// POSIX shell, exercised here as a worked example of the external Tool
// collaborator (spec §6 treats concrete tools as out of scope, but a runtime
// with zero example implementations would never actually exercise the agent
// loop's tool-execution phase end to end).
type ShellTool struct {
	sh *shell.Shell
}

// NewShellTool wraps sh as a Tool.
func NewShellTool(sh *shell.Shell) *ShellTool {
	return &ShellTool{sh: sh}
}

func (t *ShellTool) Name() string  { return "shell" }
func (t *ShellTool) Label() string { return "Shell" }
func (t *ShellTool) Description() string {
	return `Execute a shell command in an in-process POSIX interpreter.
Commands run inside the project working directory. Shell state (cwd, env vars) persists across calls within the same session.
Dangerous commands (network, sudo, package managers, system modification) are blocked.`
}

func (t *ShellTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to execute"},
			"timeout": {"type": "integer", "description": "Timeout in seconds (default 60, max 600)"}
		},
		"required": ["command"]
	}`)
}

type shellArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

const (
	maxShellOutputChars = 30000
	defaultTimeoutSec   = 60
	maxTimeoutSec        = 600
)

// Execute runs the command to completion. onPartial is not invoked: the
// interpreter's Run call doesn't return until the command exits, so there
// is no meaningful intermediate state to push beyond raw byte chunks, which
// would just fragment the final text block.
func (t *ShellTool) Execute(ctx context.Context, callID string, args json.RawMessage, onPartial func(Result)) (Result, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return Result{}, fmt.Errorf("shell: invalid arguments: %w", err)
	}
	if a.Command == "" {
		return Result{}, fmt.Errorf("shell: command is required")
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSec
	}
	if timeout > maxTimeoutSec {
		timeout = maxTimeoutSec
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	dur, execErr := t.sh.ExecStream(ctx, a.Command, &stdout, &stderr)
	exitCode := shell.ExitCode(execErr)

	output := formatShellOutput(stdout.String(), stderr.String(), exitCode, ctx.Err())
	if output == "" {
		output = "(no output)\n"
	}
	if len([]rune(output)) > maxShellOutputChars {
		output = truncateMiddle(output, maxShellOutputChars)
	}

	return Result{
		Content: []agentmsg.ContentBlock{agentmsg.Text(output)},
		Details: map[string]any{"exit_code": exitCode, "duration_ms": dur.Milliseconds()},
	}, nil
}

func formatShellOutput(stdout, stderr string, exitCode int, ctxErr error) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if ctxErr != nil {
		fmt.Fprintf(&b, "[timed out]\n")
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "[exit code: %d]\n", exitCode)
	}
	return b.String()
}

func truncateMiddle(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	half := maxChars / 2
	return string(runes[:half]) + "\n\n... [truncated] ...\n\n" + string(runes[len(runes)-half:])
}

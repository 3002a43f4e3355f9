package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 10 * time.Minute
	maxOutputLength    = 30000
)

const bashDescription = `Executes a bash command inside the workspace.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- File operations must stay inside the workspace directory`

// BashTool runs shell commands in the workspace.
type BashTool struct {
	workDir string
	shell   string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description"`
}

// NewBashTool creates a new bash tool rooted at workDir.
func NewBashTool(workDir string) *BashTool {
	return &BashTool{
		workDir: workDir,
		shell:   detectShell(),
	}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command", "description"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	workDir := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}

	if err := checkCommandPaths(params.Command, workDir); err != nil {
		return nil, err
	}

	timeout := defaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	// Process group so a timeout kills children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if toolCtx != nil {
		toolCtx.SetMetadata(params.Description, map[string]any{
			"command":     params.Command,
			"description": params.Description,
		})
	}

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	result := string(output)
	if len(result) > maxOutputLength {
		result = result[:maxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	title := params.Description
	if title == "" {
		title = "Run command"
	}

	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"output":      result,
			"exit":        exitCode,
			"description": params.Description,
		},
	}, nil
}

func (t *BashTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t, workDir: t.workDir}
}

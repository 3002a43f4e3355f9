package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	einotool "github.com/cloudwego/eino/components/tool"
)

const writeDescription = `Writes content to a file in the workspace.

Usage:
- The file_path parameter is resolved against the workspace directory
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool writes workspace files.
type WriteTool struct {
	workDir string
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool rooted at workDir.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

func (t *WriteTool) ID() string          { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "Path to the file, relative to the workspace"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	workDir := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}
	path, err := resolvePath(workDir, params.FilePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.FilePath),
		Metadata: map[string]any{
			"file":  params.FilePath,
			"bytes": len(params.Content),
		},
	}, nil
}

func (t *WriteTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t, workDir: t.workDir}
}

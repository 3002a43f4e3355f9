package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const listDescription = `Lists files and directories in a workspace path.

Usage:
- Returns file names, types (file/directory), and sizes
- Useful for exploring directory structure`

// ListTool lists workspace directories.
type ListTool struct {
	workDir string
}

// ListInput represents the input for the list tool.
type ListInput struct {
	Path   string   `json:"path,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
}

var defaultIgnorePatterns = []string{
	"node_modules/",
	"__pycache__/",
	".git/",
	"dist/",
	"build/",
	"target/",
	"vendor/",
	".idea/",
	".vscode/",
	".cache/",
	"tmp/",
	".venv/",
	"venv/",
}

// NewListTool creates a new list tool rooted at workDir.
func NewListTool(workDir string) *ListTool {
	return &ListTool{workDir: workDir}
}

func (t *ListTool) ID() string          { return "list" }
func (t *ListTool) Description() string { return listDescription }

func (t *ListTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path to the directory, relative to the workspace"
			},
			"ignore": {
				"type": "array",
				"items": {"type": "string"},
				"description": "List of glob patterns to ignore"
			}
		}
	}`)
}

// FileEntry represents a file or directory entry.
type FileEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ListInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	workDir := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}
	listPath, err := resolvePath(workDir, params.Path)
	if err != nil {
		return nil, err
	}

	ignorePatterns := append([]string{}, defaultIgnorePatterns...)
	ignorePatterns = append(ignorePatterns, params.Ignore...)

	entries, err := os.ReadDir(listPath)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var files []FileEntry
	for _, entry := range entries {
		if shouldIgnore(entry.Name(), entry.IsDir(), ignorePatterns) {
			continue
		}

		info, _ := entry.Info()
		size := int64(0)
		if info != nil {
			size = info.Size()
		}
		files = append(files, FileEntry{
			Name:        entry.Name(),
			IsDirectory: entry.IsDir(),
			Size:        size,
		})
	}

	var sb strings.Builder
	for _, f := range files {
		typeStr := "file"
		if f.IsDirectory {
			typeStr = "dir "
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", typeStr, f.Name))
		if !f.IsDirectory {
			sb.WriteString(fmt.Sprintf(" (%d bytes)", f.Size))
		}
		sb.WriteString("\n")
	}

	return &Result{
		Title:  fmt.Sprintf("Listed %d items", len(files)),
		Output: sb.String(),
		Metadata: map[string]any{
			"path":  params.Path,
			"count": len(files),
		},
	}, nil
}

func (t *ListTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t, workDir: t.workDir}
}

func shouldIgnore(name string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/") {
			if isDir && name == strings.TrimSuffix(pattern, "/") {
				return true
			}
		} else {
			if matched, _ := filepath.Match(pattern, name); matched {
				return true
			}
		}
	}
	return false
}

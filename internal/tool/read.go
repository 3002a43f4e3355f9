package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
)

const readDescription = `Reads a file from the workspace.

Usage:
- The file_path parameter is resolved against the workspace directory
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset and limit for pagination
- Returns file contents with line numbers`

// ReadTool reads workspace files.
type ReadTool struct {
	workDir string
}

// ReadInput represents the input for the read tool.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates a new read tool rooted at workDir.
func NewReadTool(workDir string) *ReadTool {
	return &ReadTool{workDir: workDir}
}

func (t *ReadTool) ID() string          { return "read" }
func (t *ReadTool) Description() string { return readDescription }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "Path to the file, relative to the workspace"
			},
			"offset": {
				"type": "integer",
				"description": "Line number to start reading from"
			},
			"limit": {
				"type": "integer",
				"description": "Number of lines to read (default: 2000)"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if params.Limit <= 0 {
		params.Limit = 2000
	}

	if shouldBlockEnvFile(params.FilePath) {
		return nil, fmt.Errorf("reading %s is blocked", params.FilePath)
	}

	workDir := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}
	path, err := resolvePath(workDir, params.FilePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", params.FilePath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", params.FilePath)
	}
	if isBinaryFile(path) {
		return nil, fmt.Errorf("file appears to be binary")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if params.Offset > 0 && lineNum < params.Offset {
			continue
		}
		if len(lines) >= params.Limit {
			break
		}

		line := scanner.Text()
		if len(line) > 2000 {
			line = line[:2000] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))

	lastReadLine := params.Offset + len(lines)
	if lineNum > lastReadLine {
		sb.WriteString(fmt.Sprintf("\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastReadLine))
	} else {
		sb.WriteString(fmt.Sprintf("\n\n(End of file - total %d lines)", lineNum))
	}
	sb.WriteString("\n</file>")

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: sb.String(),
		Metadata: map[string]any{
			"file":       params.FilePath,
			"lines":      len(lines),
			"totalLines": lineNum,
		},
	}, nil
}

func (t *ReadTool) EinoTool() einotool.InvokableTool {
	return &einoToolWrapper{tool: t, workDir: t.workDir}
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}

	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}

	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}

// shouldBlockEnvFile blocks dotenv-style secret files. Samples and examples
// are allowed through.
func shouldBlockEnvFile(filePath string) bool {
	for _, allowed := range []string{".env.sample", ".example"} {
		if strings.HasSuffix(filePath, allowed) {
			return false
		}
	}
	return strings.Contains(filePath, ".env")
}

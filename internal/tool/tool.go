// Package tool provides the tools a sprite can call during a chat turn.
// Every tool is scoped to the session's workspace directory: relative paths
// resolve inside it, and paths that escape it are rejected.
package tool

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute executes the tool with the given input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)

	// EinoTool returns an Eino-compatible tool implementation.
	EinoTool() einotool.InvokableTool
}

// Context provides execution context to tools.
type Context struct {
	UserKey   string
	MessageID string
	CallID    string
	WorkDir   string
	AbortCh   <-chan struct{}

	// OnMetadata receives real-time updates while a tool runs.
	OnMetadata func(title string, meta map[string]any)
}

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// IsAborted checks if the tool execution has been aborted.
func (c *Context) IsAborted() bool {
	select {
	case <-c.AbortCh:
		return true
	default:
		return false
	}
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    error          `json:"-"`
}

// einoToolWrapper adapts a Tool to Eino's InvokableTool interface. The agent
// loop executes tools directly and only uses the wrapper for model binding.
type einoToolWrapper struct {
	tool    Tool
	workDir string
}

// Info returns the tool information.
func (w *einoToolWrapper) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := parseJSONSchemaToParams(w.tool.Parameters())
	return &schema.ToolInfo{
		Name:        w.tool.ID(),
		Desc:        w.tool.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun executes the tool.
func (w *einoToolWrapper) InvokableRun(ctx context.Context, argsJSON string, opts ...einotool.Option) (string, error) {
	toolCtx := &Context{WorkDir: w.workDir}

	result, err := w.tool.Execute(ctx, json.RawMessage(argsJSON), toolCtx)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}

package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/spritegate/pkg/types"
)

type mockProvider struct {
	id     string
	models []types.Model
}

func (m *mockProvider) ID() string                            { return m.id }
func (m *mockProvider) Name() string                          { return m.id }
func (m *mockProvider) Models() []types.Model                 { return m.models }
func (m *mockProvider) ChatModel() model.ToolCallingChatModel { return nil }
func (m *mockProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	return nil, nil
}

func mockModel(providerID, modelID string) types.Model {
	return types.Model{ID: modelID, Name: modelID, ProviderID: providerID, SupportsTools: true}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry("")
	r.Register(&mockProvider{id: "anthropic", models: []types.Model{mockModel("anthropic", "claude-sonnet-4-20250514")}})

	p, err := r.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.ID())

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestRegistryGetModel(t *testing.T) {
	r := NewRegistry("")
	r.Register(&mockProvider{id: "anthropic", models: []types.Model{mockModel("anthropic", "claude-sonnet-4-20250514")}})

	m, err := r.GetModel("anthropic", "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", m.ID)

	_, err = r.GetModel("anthropic", "nope")
	assert.Error(t, err)
}

func TestAllModelsSortedByPriority(t *testing.T) {
	r := NewRegistry("")
	r.Register(&mockProvider{id: "openai", models: []types.Model{
		mockModel("openai", "gpt-4o"),
		mockModel("openai", "gpt-5"),
	}})
	r.Register(&mockProvider{id: "anthropic", models: []types.Model{
		mockModel("anthropic", "claude-sonnet-4-20250514"),
	}})

	models := r.AllModels()
	require.Len(t, models, 3)
	assert.Equal(t, "gpt-5", models[0].ID)
	assert.Equal(t, "claude-sonnet-4-20250514", models[1].ID)
	assert.Equal(t, "gpt-4o", models[2].ID)
}

func TestDefaultModelFromConfig(t *testing.T) {
	r := NewRegistry("openai/gpt-4o")
	r.Register(&mockProvider{id: "openai", models: []types.Model{
		mockModel("openai", "gpt-5"),
		mockModel("openai", "gpt-4o"),
	}})

	m, err := r.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.ID)
}

func TestDefaultModelFallsBackToBest(t *testing.T) {
	r := NewRegistry("anthropic/claude-sonnet-4-20250514")
	r.Register(&mockProvider{id: "openai", models: []types.Model{
		mockModel("openai", "gpt-4o"),
		mockModel("openai", "gpt-5"),
	}})

	m, err := r.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", m.ID)
}

func TestDefaultModelEmptyRegistry(t *testing.T) {
	r := NewRegistry("")
	_, err := r.DefaultModel()
	assert.Error(t, err)
}

func TestParseModelString(t *testing.T) {
	p, m := ParseModelString("anthropic/claude-sonnet-4-20250514")
	assert.Equal(t, "anthropic", p)
	assert.Equal(t, "claude-sonnet-4-20250514", m)

	p, m = ParseModelString("gpt-4o")
	assert.Equal(t, "", p)
	assert.Equal(t, "gpt-4o", m)
}

func TestConvertToEinoTools(t *testing.T) {
	params := json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "shell command"},
			"timeout": {"type": "integer", "description": "seconds"}
		},
		"required": ["command"]
	}`)

	tools := ConvertToEinoTools([]ToolInfo{
		{Name: "bash", Description: "run a command", Parameters: params},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "bash", tools[0].Name)
	assert.Equal(t, "run a command", tools[0].Desc)

	assert.NotNil(t, tools[0].ParamsOneOf)

	parsed := parseJSONSchemaToParams(params)
	require.Contains(t, parsed, "command")
	assert.Equal(t, schema.String, parsed["command"].Type)
	assert.Equal(t, "shell command", parsed["command"].Desc)
	assert.True(t, parsed["command"].Required)

	require.Contains(t, parsed, "timeout")
	assert.Equal(t, schema.Integer, parsed["timeout"].Type)
	assert.False(t, parsed["timeout"].Required)
}

func TestConvertToEinoToolsBadSchema(t *testing.T) {
	tools := ConvertToEinoTools([]ToolInfo{
		{Name: "broken", Parameters: json.RawMessage(`not json`)},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, "broken", tools[0].Name)
}

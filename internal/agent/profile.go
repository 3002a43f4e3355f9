// Package agent runs chat messages through an LLM-backed agentic loop.
// The loop streams text deltas and tool activity back through the session
// pipeline and returns the sprite's final response.
package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is a sprite personality: the system prompt, model selection, and
// tool toggles loaded from a YAML file.
type Profile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Prompt      string `yaml:"prompt"`
	// Model is a "provider/model" reference. Empty uses the configured default.
	Model       string          `yaml:"model,omitempty"`
	Temperature float64         `yaml:"temperature,omitempty"`
	MaxSteps    int             `yaml:"maxSteps,omitempty"`
	Tools       map[string]bool `yaml:"tools,omitempty"`
}

const defaultPrompt = `You are %s, a helpful assistant sprite living in a private workspace.

You chat with one user and can work with the files in your workspace using
the available tools. Keep responses concise and friendly. When the user asks
you to create or change files, do it with the tools rather than describing
what you would do. Never touch anything outside your workspace.`

// DefaultProfile returns the built-in sprite profile.
func DefaultProfile() *Profile {
	return &Profile{
		Name:        "sprite",
		Description: "Default workspace assistant",
		Temperature: 0.7,
		MaxSteps:    50,
	}
}

// LoadProfile loads a named profile from dir, layered over the defaults.
// Both <name>.yaml and <name>.yml are tried.
func LoadProfile(dir, name string) (*Profile, error) {
	if name == "" {
		return DefaultProfile(), nil
	}

	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(dir, name+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("profile %q not found in %s", name, dir)
	}

	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return profile, nil
}

// ListProfiles returns the profile names available in dir.
func ListProfiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name()[:len(e.Name())-len(ext)])
		}
	}
	return names
}

// ToolEnabled reports whether the profile allows a tool. An explicit entry
// wins; a "*" entry sets the default; absent both, tools are enabled.
func (p *Profile) ToolEnabled(toolID string) bool {
	if p.Tools == nil {
		return true
	}
	if enabled, ok := p.Tools[toolID]; ok {
		return enabled
	}
	if enabled, ok := p.Tools["*"]; ok {
		return enabled
	}
	return true
}

// SystemPrompt renders the profile's system prompt for one sprite.
// spriteName personalizes the default prompt; a profile with an explicit
// prompt is used verbatim with the workspace note appended.
func (p *Profile) SystemPrompt(spriteName, workspaceDir string) string {
	prompt := p.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf(defaultPrompt, spriteName)
	}
	if workspaceDir != "" {
		prompt += fmt.Sprintf("\n\nYour workspace directory is %s.", workspaceDir)
	}
	return prompt
}

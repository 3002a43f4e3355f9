package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sprite-ai/spritegate/internal/config"
	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	// defaultModel is the "provider/model" reference from configuration.
	defaultModel string
}

// NewRegistry creates an empty registry with the given default model ref.
func NewRegistry(defaultModel string) *Registry {
	return &Registry{
		providers:    make(map[string]Provider),
		defaultModel: defaultModel,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all available providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, model := range provider.Models() {
		if model.ID == modelID {
			return &model, nil
		}
	}

	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers, best first.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}

	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})

	return models
}

// DefaultModel resolves the configured model reference, falling back to the
// best available model when the reference names nothing registered.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.defaultModel != "" {
		providerID, modelID := ParseModelString(r.defaultModel)
		if model, err := r.GetModel(providerID, modelID); err == nil {
			return model, nil
		}
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses a "provider/model" reference.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "gpt-5"):
		return 100
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "claude-3-5"):
		return 75
	default:
		return 50
	}
}

// InitializeProviders builds a registry from configuration, registering every
// provider with a usable API key. A provider that fails to initialize is
// logged and skipped rather than failing startup.
func InitializeProviders(ctx context.Context, cfg *config.Config) *Registry {
	registry := NewRegistry(cfg.Agent.Model)

	if pc, ok := cfg.Provider["anthropic"]; ok && pc.APIKey != "" {
		p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("anthropic provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	if pc, ok := cfg.Provider["openai"]; ok && pc.APIKey != "" {
		p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("openai provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	return registry
}

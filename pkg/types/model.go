package types

// Model describes an LLM model exposed by a provider.
type Model struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ProviderID      string  `json:"providerID"`
	ContextLength   int     `json:"contextLength"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	SupportsTools   bool    `json:"supportsTools"`
	SupportsVision  bool    `json:"supportsVision"`
	InputPrice      float64 `json:"inputPrice,omitempty"`  // per 1M tokens
	OutputPrice     float64 `json:"outputPrice,omitempty"` // per 1M tokens
}

// ModelRef names a provider/model pair.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

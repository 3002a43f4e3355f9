package config

// Config is the root spritegate configuration.
type Config struct {
	Server    ServerConfig              `json:"server"`
	Session   SessionConfig             `json:"session"`
	Workspace WorkspaceConfig           `json:"workspace"`
	Terminal  TerminalConfig            `json:"terminal"`
	History   HistoryConfig             `json:"history"`
	Identity  IdentityConfig            `json:"identity"`
	Agent     AgentConfig               `json:"agent"`
	Provider  map[string]ProviderConfig `json:"provider"`
	Log       LogConfig                 `json:"log"`
}

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	EnableCORS bool   `json:"enableCors"`
	// ReadTimeoutSeconds applies to the initial HTTP exchange only; WebSocket
	// connections are long-lived and not subject to it after upgrade.
	ReadTimeoutSeconds int `json:"readTimeoutSeconds"`
}

// SessionConfig holds session registry and admission queue settings.
type SessionConfig struct {
	// MaxQueueSize bounds waiting (not processing) messages per session.
	MaxQueueSize int `json:"maxQueueSize"`
	// IdleGraceSeconds is how long a session with zero attached channels
	// survives before eviction.
	IdleGraceSeconds int `json:"idleGraceSeconds"`
	// CancelOnEvict aborts an in-flight message when the session is evicted.
	// When false the message runs to completion and the result is dropped.
	CancelOnEvict bool `json:"cancelOnEvict"`
	// WriteBufferSize is the per-channel outbound event buffer. A channel
	// that falls this far behind is disconnected.
	WriteBufferSize int `json:"writeBufferSize"`
}

// WorkspaceConfig holds per-user workspace provisioning settings.
type WorkspaceConfig struct {
	// Root is the directory under which per-user workspaces are created.
	Root string `json:"root"`
	// IgnorePatterns are doublestar globs excluded from tree snapshots and
	// change notifications.
	IgnorePatterns []string `json:"ignorePatterns"`
	// ProvisionTimeoutSeconds bounds the readiness wait for first-time
	// provisioning.
	ProvisionTimeoutSeconds int `json:"provisionTimeoutSeconds"`
}

// TerminalConfig holds PTY bridge settings.
type TerminalConfig struct {
	Shell string `json:"shell"`
	Cols  uint16 `json:"cols"`
	Rows  uint16 `json:"rows"`
}

// HistoryConfig holds the SQLite history store settings.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `json:"path"`
	// DefaultLimit is the message count returned for a history request
	// without an explicit limit.
	DefaultLimit int `json:"defaultLimit"`
}

// IdentityConfig holds connect-handshake identity settings.
type IdentityConfig struct {
	// JWTSecret verifies HS256 bearer tokens carried in connect envelopes.
	// Empty disables token verification; self-declared user_ids are then
	// accepted as-is.
	JWTSecret string `json:"jwtSecret"`
	// SpritePrefix prefixes derived sprite names.
	SpritePrefix string `json:"spritePrefix"`
}

// AgentConfig selects and tunes the chat executor.
type AgentConfig struct {
	// Model is a "provider/model" reference, e.g. "anthropic/claude-sonnet-4-20250514".
	Model string `json:"model"`
	// Profile is the sprite profile name to load. Empty uses the built-in default.
	Profile string `json:"profile"`
	// ProfileDir holds YAML sprite profiles.
	ProfileDir string `json:"profileDir"`
	// MaxSteps bounds agentic loop iterations.
	MaxSteps int `json:"maxSteps"`
	// Tools toggles individual tools by id.
	Tools map[string]bool `json:"tools"`
}

// ProviderConfig configures one LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`

	// Options mirror the nested form some config files use.
	Options *ProviderOptions `json:"options,omitempty"`
}

// ProviderOptions is the nested provider option block.
type ProviderOptions struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `json:"level"`
	Pretty    bool   `json:"pretty"`
	LogToFile bool   `json:"logToFile"`
	LogDir    string `json:"logDir"`
}

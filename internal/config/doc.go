// Package config provides configuration loading, merging, and path
// management for spritegate.
//
// # Configuration Loading
//
// Configuration is merged from multiple sources in priority order, where
// later sources override earlier ones:
//
//  1. Global config (~/.spritegate/)
//  2. Global config (~/.config/spritegate/ - XDG compatible)
//  3. Project config (spritegate.json/spritegate.jsonc in the working directory)
//  4. SPRITEGATE_CONFIG file
//  5. SPRITEGATE_CONFIG_CONTENT inline JSON
//  6. Environment variables
//
// Both plain JSON and JSONC (JSON with comments) files are accepted; JSONC
// is stripped using tidwall/jsonc before parsing.
//
// # Interpolation
//
// Config values may embed placeholders resolved at load time:
//
//   - {env:VAR_NAME} expands to the environment variable's value
//   - {file:path} expands to the file's contents (relative paths resolve
//     against the config file's directory; ~/ expands to the home directory)
//
// This keeps secrets like API keys and the JWT secret out of config files:
//
//	{"provider": {"anthropic": {"apiKey": "{env:ANTHROPIC_API_KEY}"}}}
//
// # Paths
//
// GetPaths returns the XDG-compatible directory layout:
//
//   - Data: ~/.local/share/spritegate (workspace manifests, history, workspaces)
//   - Config: ~/.config/spritegate
//   - Cache: ~/.cache/spritegate
//   - State: ~/.local/state/spritegate
//
// # Environment Variables
//
//   - SPRITEGATE_MODEL - override the default "provider/model" reference
//   - SPRITEGATE_PORT - override the listen port
//   - SPRITEGATE_WORKSPACE_ROOT - override the workspace root directory
//   - SPRITEGATE_JWT_SECRET - override the connect-handshake JWT secret
//   - SPRITEGATE_LOG_LEVEL - override the log level
//   - SPRITEGATE_CONFIG - path to a specific config file
//   - SPRITEGATE_CONFIG_CONTENT - inline JSON configuration
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY - provider credentials
package config

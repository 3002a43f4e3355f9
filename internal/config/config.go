// Package config provides layered configuration loading for spritegate.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Load loads configuration from multiple sources (priority order, later wins):
// 1. Global config (~/.spritegate/)
// 2. Global config (~/.config/spritegate/ - XDG compatible)
// 3. Project config (working directory)
// 4. SPRITEGATE_CONFIG file
// 5. SPRITEGATE_CONFIG_CONTENT inline JSON
// 6. Environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Dotdir global config (~/.spritegate/)
	home := os.Getenv("HOME")
	if home != "" {
		dotDir := filepath.Join(home, ".spritegate")
		loadOnce(filepath.Join(dotDir, "spritegate.json"), dotDir)
		loadOnce(filepath.Join(dotDir, "spritegate.jsonc"), dotDir)
	}

	// 2. XDG-compatible global config (~/.config/spritegate/)
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "spritegate.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "spritegate.jsonc"), globalPath)

	// 3. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "spritegate.json"), directory)
		loadOnce(filepath.Join(directory, "spritegate.jsonc"), directory)
	}

	// 4. SPRITEGATE_CONFIG file override
	if configPath := os.Getenv("SPRITEGATE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 5. SPRITEGATE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("SPRITEGATE_CONFIG_CONTENT"); configContent != "" {
		var inline Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	// 6. Environment variables (highest priority)
	applyEnvOverrides(config)

	normalizeProviderConfig(config)
	applyDefaults(config)

	return config, nil
}

// Default returns the built-in configuration before any file is applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			EnableCORS:         true,
			ReadTimeoutSeconds: 30,
		},
		Session: SessionConfig{
			MaxQueueSize:     10,
			IdleGraceSeconds: 60,
			CancelOnEvict:    false,
			WriteBufferSize:  64,
		},
		Workspace: WorkspaceConfig{
			Root: GetPaths().WorkspacesPath(),
			IgnorePatterns: []string{
				".git", "node_modules", "__pycache__", ".venv", "venv",
				".DS_Store", ".pytest_cache", ".mypy_cache", "*.pyc", "*.pyo",
			},
			ProvisionTimeoutSeconds: 30,
		},
		Terminal: TerminalConfig{
			Shell: "/bin/bash",
			Cols:  80,
			Rows:  24,
		},
		History: HistoryConfig{
			Path:         filepath.Join(GetPaths().Data, "history.db"),
			DefaultLimit: 50,
		},
		Identity: IdentityConfig{
			SpritePrefix: "sprite",
		},
		Agent: AgentConfig{
			Model:    "anthropic/claude-sonnet-4-20250514",
			MaxSteps: 50,
		},
		Provider: make(map[string]ProviderConfig),
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// normalizeProviderConfig merges Options fields into direct fields.
func normalizeProviderConfig(config *Config) {
	for name, provider := range config.Provider {
		if provider.Options != nil {
			// Options take precedence over direct fields
			if provider.Options.APIKey != "" {
				provider.APIKey = provider.Options.APIKey
			}
			if provider.Options.BaseURL != "" {
				provider.BaseURL = provider.Options.BaseURL
			}
		}
		config.Provider[name] = provider
	}
}

// applyDefaults restores required values a config file may have zeroed.
func applyDefaults(config *Config) {
	def := Default()
	if config.Server.Port == 0 {
		config.Server.Port = def.Server.Port
	}
	if config.Session.MaxQueueSize <= 0 {
		config.Session.MaxQueueSize = def.Session.MaxQueueSize
	}
	if config.Session.IdleGraceSeconds <= 0 {
		config.Session.IdleGraceSeconds = def.Session.IdleGraceSeconds
	}
	if config.Session.WriteBufferSize <= 0 {
		config.Session.WriteBufferSize = def.Session.WriteBufferSize
	}
	if config.Workspace.Root == "" {
		config.Workspace.Root = def.Workspace.Root
	}
	if config.Workspace.ProvisionTimeoutSeconds <= 0 {
		config.Workspace.ProvisionTimeoutSeconds = def.Workspace.ProvisionTimeoutSeconds
	}
	if config.Terminal.Shell == "" {
		config.Terminal.Shell = def.Terminal.Shell
	}
	if config.Terminal.Cols == 0 {
		config.Terminal.Cols = def.Terminal.Cols
	}
	if config.Terminal.Rows == 0 {
		config.Terminal.Rows = def.Terminal.Rows
	}
	if config.History.DefaultLimit <= 0 {
		config.History.DefaultLimit = def.History.DefaultLimit
	}
	if config.Identity.SpritePrefix == "" {
		config.Identity.SpritePrefix = def.Identity.SpritePrefix
	}
	if config.Agent.Model == "" {
		config.Agent.Model = def.Agent.Model
	}
	if config.Agent.MaxSteps <= 0 {
		config.Agent.MaxSteps = def.Agent.MaxSteps
	}
	if config.Log.Level == "" {
		config.Log.Level = def.Log.Level
	}
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.Server.Host != "" {
		target.Server.Host = source.Server.Host
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.ReadTimeoutSeconds != 0 {
		target.Server.ReadTimeoutSeconds = source.Server.ReadTimeoutSeconds
	}
	target.Server.EnableCORS = target.Server.EnableCORS || source.Server.EnableCORS

	if source.Session.MaxQueueSize != 0 {
		target.Session.MaxQueueSize = source.Session.MaxQueueSize
	}
	if source.Session.IdleGraceSeconds != 0 {
		target.Session.IdleGraceSeconds = source.Session.IdleGraceSeconds
	}
	if source.Session.WriteBufferSize != 0 {
		target.Session.WriteBufferSize = source.Session.WriteBufferSize
	}
	target.Session.CancelOnEvict = target.Session.CancelOnEvict || source.Session.CancelOnEvict

	if source.Workspace.Root != "" {
		target.Workspace.Root = source.Workspace.Root
	}
	if len(source.Workspace.IgnorePatterns) > 0 {
		target.Workspace.IgnorePatterns = source.Workspace.IgnorePatterns
	}
	if source.Workspace.ProvisionTimeoutSeconds != 0 {
		target.Workspace.ProvisionTimeoutSeconds = source.Workspace.ProvisionTimeoutSeconds
	}

	if source.Terminal.Shell != "" {
		target.Terminal.Shell = source.Terminal.Shell
	}
	if source.Terminal.Cols != 0 {
		target.Terminal.Cols = source.Terminal.Cols
	}
	if source.Terminal.Rows != 0 {
		target.Terminal.Rows = source.Terminal.Rows
	}

	if source.History.Path != "" {
		target.History.Path = source.History.Path
	}
	if source.History.DefaultLimit != 0 {
		target.History.DefaultLimit = source.History.DefaultLimit
	}

	if source.Identity.JWTSecret != "" {
		target.Identity.JWTSecret = source.Identity.JWTSecret
	}
	if source.Identity.SpritePrefix != "" {
		target.Identity.SpritePrefix = source.Identity.SpritePrefix
	}

	if source.Agent.Model != "" {
		target.Agent.Model = source.Agent.Model
	}
	if source.Agent.Profile != "" {
		target.Agent.Profile = source.Agent.Profile
	}
	if source.Agent.ProfileDir != "" {
		target.Agent.ProfileDir = source.Agent.ProfileDir
	}
	if source.Agent.MaxSteps != 0 {
		target.Agent.MaxSteps = source.Agent.MaxSteps
	}
	if source.Agent.Tools != nil {
		if target.Agent.Tools == nil {
			target.Agent.Tools = make(map[string]bool)
		}
		for k, v := range source.Agent.Tools {
			target.Agent.Tools[k] = v
		}
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.LogDir != "" {
		target.Log.LogDir = source.Log.LogDir
	}
	target.Log.Pretty = target.Log.Pretty || source.Log.Pretty
	target.Log.LogToFile = target.Log.LogToFile || source.Log.LogToFile
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("SPRITEGATE_MODEL"); model != "" {
		config.Agent.Model = model
	}
	if port := os.Getenv("SPRITEGATE_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			config.Server.Port = n
		}
	}
	if root := os.Getenv("SPRITEGATE_WORKSPACE_ROOT"); root != "" {
		config.Workspace.Root = root
	}
	if secret := os.Getenv("SPRITEGATE_JWT_SECRET"); secret != "" {
		config.Identity.JWTSecret = secret
	}
	if level := os.Getenv("SPRITEGATE_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Package config handles configuration loading and saving.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/provider"
)

const (
	configFileName = "config.yaml"
	appDirName     = ".opencrab"
)

var configDirOverride string

// SetConfigDir overrides the config directory for the current process.
// Empty value clears the override.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Channels  *ChannelsConfig `json:"channels" yaml:"channels"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// AgentConfig contains agent runtime defaults.
type AgentConfig struct {
	Provider          string  `json:"provider" yaml:"provider"` // anthropic, openrouter
	Model             string  `json:"model,omitempty" yaml:"model,omitempty"`
	Workspace         string  `json:"workspace,omitempty" yaml:"workspace,omitempty"` // defaults to ~/.opencrab/workspace
	MaxTokens         int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxToolIterations int     `json:"maxToolIterations,omitempty" yaml:"maxToolIterations,omitempty"` // 0 = unlimited
	AutoApproveTools  bool    `json:"autoApproveTools,omitempty" yaml:"autoApproveTools,omitempty"`
	Streaming         bool    `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	CompactRatio      float64 `json:"compactRatio,omitempty" yaml:"compactRatio,omitempty"` // share of context window that triggers compaction
}

// ProvidersConfig contains provider API configurations.
type ProvidersConfig struct {
	Anthropic  *ProviderConfig `json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
	OpenRouter *ProviderConfig `json:"openrouter,omitempty" yaml:"openrouter,omitempty"`
}

// ProviderConfig contains API credentials for a provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"` // optional custom base URL
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Stdout  bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"` // log to stdout
	File    string `json:"file,omitempty" yaml:"file,omitempty"`     // log file path
}

// ChannelsConfig contains channel configurations.
type ChannelsConfig struct {
	Telegram *TelegramChannelConfig `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	Discord  *DiscordChannelConfig  `json:"discord,omitempty" yaml:"discord,omitempty"`
}

// TelegramChannelConfig contains Telegram bot configuration.
type TelegramChannelConfig struct {
	Token      string  `json:"token" yaml:"token"`           // Bot token from BotFather
	AllowedIDs []int64 `json:"allowedIds" yaml:"allowedIds"` // Allowed user/chat IDs
}

// DiscordChannelConfig contains Discord bot configuration.
type DiscordChannelConfig struct {
	Token           string   `json:"token" yaml:"token"`
	AllowedGuildIDs []string `json:"allowedGuildIds,omitempty" yaml:"allowedGuildIds,omitempty"` // empty = allow all
	AllowedUserIDs  []string `json:"allowedUserIds,omitempty" yaml:"allowedUserIds,omitempty"`   // empty = allow all
}

// Dir returns the config directory, honoring the override.
func Dir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, appDirName), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Exists reports whether a config file is present.
func Exists() bool {
	path, err := Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads the config file, applying defaults for missing fields. A
// missing file yields the default config.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the config file, creating the config directory if needed.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// WorkspacePath resolves the workspace directory, creating it if needed.
func (c *Config) WorkspacePath() (string, error) {
	ws := c.Agent.Workspace
	if ws == "" {
		dir, err := Dir()
		if err != nil {
			return "", err
		}
		ws = filepath.Join(dir, "workspace")
	}
	if strings.HasPrefix(ws, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		ws = filepath.Join(home, ws[1:])
	}
	if err := os.MkdirAll(ws, 0755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return ws, nil
}

// BuildLoggerConfig converts the logging section to logger settings.
func (c *Config) BuildLoggerConfig() logger.Config {
	enabled := true
	if c.Logging.Enabled != nil {
		enabled = *c.Logging.Enabled
	}
	return logger.Config{
		Enabled: enabled,
		Level:   c.Logging.Level,
		Stdout:  c.Logging.Stdout,
		File:    c.Logging.File,
	}
}

// ProviderCredentials maps configured providers to their credentials.
func (c *Config) ProviderCredentials() map[string]provider.Credentials {
	out := map[string]provider.Credentials{}
	if c.Providers.Anthropic != nil {
		out["anthropic"] = provider.Credentials{APIKey: c.Providers.Anthropic.APIKey, APIBase: c.Providers.Anthropic.APIBase}
	}
	if c.Providers.OpenRouter != nil {
		out["openrouter"] = provider.Credentials{APIKey: c.Providers.OpenRouter.APIKey, APIBase: c.Providers.OpenRouter.APIBase}
	}
	return out
}

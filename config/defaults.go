package config

const (
	defaultProvider     = "anthropic"
	defaultMaxTokens    = 8192
	defaultTemperature  = 0.7
	defaultCompactRatio = 0.8
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	logDefaults := defaultLoggingConfig()
	return &Config{
		Agent: AgentConfig{
			Provider:     defaultProvider,
			MaxTokens:    defaultMaxTokens,
			Temperature:  defaultTemperature,
			CompactRatio: defaultCompactRatio,
			Streaming:    true,
		},
		Providers: ProvidersConfig{
			Anthropic: &ProviderConfig{
				APIKey: "",
			},
		},
		Channels: &ChannelsConfig{},
		Logging:  logDefaults,
	}
}

func defaultLoggingConfig() LoggingConfig {
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  true,
		File:    "logs/opencrab.log",
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.Provider == "" {
		c.Agent.Provider = defaultProvider
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = defaultMaxTokens
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = defaultTemperature
	}
	if c.Agent.CompactRatio < 0 || c.Agent.CompactRatio >= 1 {
		c.Agent.CompactRatio = defaultCompactRatio
	}

	if c.Channels == nil {
		c.Channels = &ChannelsConfig{}
	}
	if c.Channels.Telegram != nil && c.Channels.Telegram.AllowedIDs == nil {
		c.Channels.Telegram.AllowedIDs = []int64{}
	}

	def := defaultLoggingConfig()
	if c.Logging == (LoggingConfig{}) {
		c.Logging = def
		return
	}

	hasAny := c.Logging.Level != "" || c.Logging.File != "" || c.Logging.Stdout
	if c.Logging.Enabled == nil && hasAny {
		enabled := true
		c.Logging.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.File
	}
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// The remote API's published minimum cadences. Anything below these risks
// lockout, so the configuration layer refuses them outright.
const (
	MinAPIDelay                = 600 * time.Millisecond
	MinRecruitTelegramDelay    = 180 * time.Second
	MinNonRecruitTelegramDelay = 60 * time.Second
)

// Config holds the client configuration.
type Config struct {
	UserAgent               string        `mapstructure:"user_agent"`
	APIDelay                time.Duration `mapstructure:"api_delay"`
	RecruitTelegramDelay    time.Duration `mapstructure:"recruit_telegram_delay"`
	NonRecruitTelegramDelay time.Duration `mapstructure:"non_recruit_telegram_delay"`
	Throttle                bool          `mapstructure:"throttle"`
	AllowImmediate          bool          `mapstructure:"allow_immediate"`
	CacheEnabled            bool          `mapstructure:"cache_enabled"`
	CacheValidity           time.Duration `mapstructure:"cache_validity"`
	TelemetryDB             string        `mapstructure:"telemetry_db"`
	LogLevel                string        `mapstructure:"log_level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// LoadFromFile loads configuration from a TOML file, applying defaults and
// validating the result.
func LoadFromFile(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configFile)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadWithEnvironment loads configuration with NSAPI_* environment variable
// support on top of the defaults.
func LoadWithEnvironment() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NSAPI")
	v.AutomaticEnv()
	for envVar, configKey := range envMappings() {
		v.BindEnv(configKey, envVar)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// LoadWithPrecedence loads defaults, then the optional config file, then
// environment variables, then explicit flag overrides, and validates the
// final result.
func LoadWithPrecedence(configFile string, flags *Config, explicit map[string]bool) (*Config, error) {
	config, err := ResolveWithPrecedence(configFile, flags, explicit)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// ResolveWithPrecedence applies the same precedence as LoadWithPrecedence
// without validating the result, for commands that only consume a subset of
// the configuration.
func ResolveWithPrecedence(configFile string, flags *Config, explicit map[string]bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("NSAPI")
	v.AutomaticEnv()
	for envVar, configKey := range envMappings() {
		v.BindEnv(configKey, envVar)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if flags != nil && explicit != nil {
		config = *config.MergeWithFlags(flags, explicit)
	}
	return &config, nil
}

// LoadWithDefaults returns a configuration with default values. The result
// still fails Validate until a user agent is set.
func LoadWithDefaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_agent", "")
	v.SetDefault("api_delay", MinAPIDelay)
	v.SetDefault("recruit_telegram_delay", MinRecruitTelegramDelay)
	v.SetDefault("non_recruit_telegram_delay", MinNonRecruitTelegramDelay)
	v.SetDefault("throttle", true)
	v.SetDefault("allow_immediate", false)
	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_validity", 30*time.Second)
	v.SetDefault("telemetry_db", "")
	v.SetDefault("log_level", "info")
}

func envMappings() map[string]string {
	return map[string]string{
		"NSAPI_USER_AGENT":                 "user_agent",
		"NSAPI_API_DELAY":                  "api_delay",
		"NSAPI_RECRUIT_TELEGRAM_DELAY":     "recruit_telegram_delay",
		"NSAPI_NON_RECRUIT_TELEGRAM_DELAY": "non_recruit_telegram_delay",
		"NSAPI_THROTTLE":                   "throttle",
		"NSAPI_ALLOW_IMMEDIATE":            "allow_immediate",
		"NSAPI_CACHE_ENABLED":              "cache_enabled",
		"NSAPI_CACHE_VALIDITY":             "cache_validity",
		"NSAPI_TELEMETRY_DB":               "telemetry_db",
		"NSAPI_LOG_LEVEL":                  "log_level",
	}
}

// MergeWithFlags merges the base configuration with flag values that were
// explicitly set, so zero values override correctly.
func (c *Config) MergeWithFlags(flags *Config, explicit map[string]bool) *Config {
	result := *c

	if explicit["user_agent"] {
		result.UserAgent = flags.UserAgent
	}
	if explicit["api_delay"] {
		result.APIDelay = flags.APIDelay
	}
	if explicit["recruit_telegram_delay"] {
		result.RecruitTelegramDelay = flags.RecruitTelegramDelay
	}
	if explicit["non_recruit_telegram_delay"] {
		result.NonRecruitTelegramDelay = flags.NonRecruitTelegramDelay
	}
	if explicit["throttle"] {
		result.Throttle = flags.Throttle
	}
	if explicit["allow_immediate"] {
		result.AllowImmediate = flags.AllowImmediate
	}
	if explicit["cache_enabled"] {
		result.CacheEnabled = flags.CacheEnabled
	}
	if explicit["cache_validity"] {
		result.CacheValidity = flags.CacheValidity
	}
	if explicit["telemetry_db"] {
		result.TelemetryDB = flags.TelemetryDB
	}
	if explicit["log_level"] {
		result.LogLevel = flags.LogLevel
	}
	return &result
}

// FindConfigFile searches for a configuration file in the given directory.
func FindConfigFile(dir string) string {
	configNames := []string{".nsapi.toml", "nsapi.toml"}
	for _, name := range configNames {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}
	return ""
}

// Validate validates the configuration and returns detailed error messages.
// Cadence floors are hard minimums: values below them are configuration
// errors, not warnings.
func (c *Config) Validate() error {
	var errors []ValidationError

	if strings.TrimSpace(c.UserAgent) == "" {
		errors = append(errors, ValidationError{
			Field:   "user_agent",
			Value:   c.UserAgent,
			Message: "must identify the operator (the remote API rejects anonymous traffic)",
		})
	}

	if c.APIDelay < MinAPIDelay {
		errors = append(errors, ValidationError{
			Field:   "api_delay",
			Value:   c.APIDelay,
			Message: fmt.Sprintf("must be at least %v", MinAPIDelay),
		})
	}
	if c.RecruitTelegramDelay < MinRecruitTelegramDelay {
		errors = append(errors, ValidationError{
			Field:   "recruit_telegram_delay",
			Value:   c.RecruitTelegramDelay,
			Message: fmt.Sprintf("must be at least %v", MinRecruitTelegramDelay),
		})
	}
	if c.NonRecruitTelegramDelay < MinNonRecruitTelegramDelay {
		errors = append(errors, ValidationError{
			Field:   "non_recruit_telegram_delay",
			Value:   c.NonRecruitTelegramDelay,
			Message: fmt.Sprintf("must be at least %v", MinNonRecruitTelegramDelay),
		})
	}

	if c.CacheValidity <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cache_validity",
			Value:   c.CacheValidity,
			Message: "must be positive",
		})
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "log_level",
			Value:   c.LogLevel,
			Message: "must be one of 'debug', 'info', 'warn', 'error'",
		})
	}

	if len(errors) > 0 {
		var messages []string
		for _, err := range errors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

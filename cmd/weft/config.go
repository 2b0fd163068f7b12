// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring storage
	ServiceName = "weft"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "weft"
	// AnthropicKeyringKey is the keyring entry for the Anthropic API key
	AnthropicKeyringKey = "anthropic_api_key"
)

// Config holds all configuration for the weft server.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the weft data directory. Set during config initialization;
	// override with the WEFT_DATA_DIR environment variable.
	DataDir string `mapstructure:"-"`

	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Database DatabaseConfig `mapstructure:"database"`
	Governor GovernorConfig `mapstructure:"governor"`
	Run      RunConfig      `mapstructure:"run"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr            string   `mapstructure:"addr"`
	JanitorSchedule string   `mapstructure:"janitor_schedule"`
	CORSEnabled     bool     `mapstructure:"cors_enabled"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	AnthropicAPIKey string  `mapstructure:"anthropic_api_key"` // From CLI/env/keyring only
	AnthropicModel  string  `mapstructure:"anthropic_model"`
	Endpoint        string  `mapstructure:"endpoint"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
}

// DatabaseConfig holds the queried datasource plus the answer-history store.
type DatabaseConfig struct {
	// Dialect of the datasource the agent queries (sqlite, mysql, postgres)
	Dialect string `mapstructure:"dialect"`
	// DSN of the datasource the agent queries
	DSN string `mapstructure:"dsn"`
	// HistoryPath is the SQLite file for answer history (default: $WEFT_DATA_DIR/history.db)
	HistoryPath string `mapstructure:"history_path"`
}

// GovernorConfig holds per-session tool-call budgets.
type GovernorConfig struct {
	MaxCallsPerTool        int `mapstructure:"max_calls_per_tool"`
	MaxTotalCalls          int `mapstructure:"max_total_calls"`
	MaxConsecutiveSameTool int `mapstructure:"max_consecutive_same_tool"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	PatternWindow          int `mapstructure:"pattern_window"`
	SessionTTLMinutes      int `mapstructure:"session_ttl_minutes"`
}

// RunConfig holds per-run streaming limits.
type RunConfig struct {
	KeepaliveSeconds    int `mapstructure:"keepalive_seconds"`
	IdleTimeoutSeconds  int `mapstructure:"idle_timeout_seconds"`
	TotalTimeoutSeconds int `mapstructure:"total_timeout_seconds"`
	FlushEvery          int `mapstructure:"flush_every"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GetWeftDataDir returns the data directory, honoring WEFT_DATA_DIR.
func GetWeftDataDir() string {
	if dir := os.Getenv("WEFT_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(home, ".weft")
}

// LoadConfig loads configuration from file, environment and defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config search paths (in order of priority)
		viper.AddConfigPath(GetWeftDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/weft/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("WEFT")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = GetWeftDataDir()

	if config.Database.HistoryPath == "" {
		config.Database.HistoryPath = filepath.Join(config.DataDir, "history.db")
	}

	// Keyring is a fallback; CLI/env/config file win. Non-fatal when the
	// system keyring is unavailable.
	if config.LLM.AnthropicAPIKey == "" {
		if value, err := keyring.Get(ServiceName, AnthropicKeyringKey); err == nil {
			config.LLM.AnthropicAPIKey = value
		}
	}
	if config.LLM.AnthropicAPIKey == "" {
		config.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.janitor_schedule", "@every 5m")
	viper.SetDefault("server.cors_enabled", true)
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 1.0)

	viper.SetDefault("database.dialect", "sqlite")

	viper.SetDefault("governor.max_calls_per_tool", 50)
	viper.SetDefault("governor.max_total_calls", 100)
	viper.SetDefault("governor.max_consecutive_same_tool", 30)
	viper.SetDefault("governor.max_consecutive_failures", 10)
	viper.SetDefault("governor.pattern_window", 10)
	viper.SetDefault("governor.session_ttl_minutes", 30)

	viper.SetDefault("run.keepalive_seconds", 25)
	viper.SetDefault("run.idle_timeout_seconds", 300)
	viper.SetDefault("run.total_timeout_seconds", 900)
	viper.SetDefault("run.flush_every", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

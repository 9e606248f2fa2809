// Copyright 2026 The Mila Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the process configuration.
//
// Configuration is a single YAML document with ${ENV_VAR} expansion; a .env
// file next to the working directory is loaded first so secrets never have to
// live in the YAML itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object. One Config is built at process
// start and handed to every component explicitly; there is no package-level
// state.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Vector        VectorConfig        `yaml:"vector"`
	Agent         AgentConfig         `yaml:"agent"`
	Conversations ConversationsConfig `yaml:"conversations"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Server        ServerConfig        `yaml:"server"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DatabaseConfig selects the relational backend.
type DatabaseConfig struct {
	// Driver is one of sqlite3, postgres, mysql.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Provider   string        `yaml:"provider"` // anthropic
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Host       string        `yaml:"host"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Provider  string        `yaml:"provider"` // openai
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// VectorConfig configures the vector store.
type VectorConfig struct {
	// Provider is qdrant or chromem.
	Provider   string        `yaml:"provider"`
	Collection string        `yaml:"collection"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	APIKey     string        `yaml:"api_key"`
	UseTLS     bool          `yaml:"use_tls"`
	Timeout    time.Duration `yaml:"timeout"`

	// PersistPath enables file persistence for the chromem provider.
	PersistPath string `yaml:"persist_path"`
}

// AgentConfig tunes the tool-use loop.
type AgentConfig struct {
	// MaxRounds caps model round-trips per message; exceeding it fails the
	// message instead of looping forever.
	MaxRounds int `yaml:"max_rounds"`

	// SearchLimit is the knowledge_search result cap.
	SearchLimit int `yaml:"search_limit"`

	// HistoryWindow is how many prior turns are loaded per message.
	HistoryWindow int `yaml:"history_window"`
}

// ConversationsConfig tunes the conversation store.
type ConversationsConfig struct {
	// Window is the per-conversation turn cap; oldest turns drop first.
	Window int `yaml:"window"`

	// MaxAge is the idle age after which cleanup deletes a conversation.
	MaxAge time.Duration `yaml:"max_age"`
}

// RateLimitConfig tunes the per-sender fixed window.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// ServerConfig configures the webhook transport.
type ServerConfig struct {
	Port int `yaml:"port"`

	// SendURL is where outbound replies are POSTed.
	SendURL string `yaml:"send_url"`
}

// Load reads, expands, and validates a config file.
func Load(path string) (*Config, error) {
	LoadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes with env expansion applied.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills zero values with production defaults.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "mila.db"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-haiku-4-5-20251001"
	}
	if c.LLM.Host == "" {
		c.LLM.Host = "https://api.anthropic.com"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "openai"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.BaseURL == "" {
		c.Embedder.BaseURL = "https://api.openai.com/v1"
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 1536
	}
	if c.Embedder.BatchSize == 0 {
		c.Embedder.BatchSize = 100
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30 * time.Second
	}
	if c.Vector.Provider == "" {
		c.Vector.Provider = "qdrant"
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "mila_knowledge"
	}
	if c.Vector.Host == "" {
		c.Vector.Host = "localhost"
	}
	if c.Vector.Port == 0 {
		c.Vector.Port = 6334
	}
	if c.Vector.Timeout == 0 {
		c.Vector.Timeout = 30 * time.Second
	}
	if c.Agent.MaxRounds == 0 {
		c.Agent.MaxRounds = 8
	}
	if c.Agent.SearchLimit == 0 {
		c.Agent.SearchLimit = 7
	}
	if c.Agent.HistoryWindow == 0 {
		c.Agent.HistoryWindow = 5
	}
	if c.Conversations.Window == 0 {
		c.Conversations.Window = 20
	}
	if c.Conversations.MaxAge == 0 {
		c.Conversations.MaxAge = 7 * 24 * time.Hour
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	if c.Embedder.Provider != "openai" {
		return fmt.Errorf("unsupported embedder provider: %s", c.Embedder.Provider)
	}

	switch c.Vector.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unsupported vector provider: %s", c.Vector.Provider)
	}

	if c.Agent.MaxRounds < 1 {
		return fmt.Errorf("agent.max_rounds must be positive")
	}
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be positive")
	}
	return nil
}

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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, 1536, cfg.Embedder.Dimension)
	assert.Equal(t, "qdrant", cfg.Vector.Provider)
	assert.Equal(t, "mila_knowledge", cfg.Vector.Collection)
	assert.Equal(t, 8, cfg.Agent.MaxRounds)
	assert.Equal(t, 7, cfg.Agent.SearchLimit)
	assert.Equal(t, 5, cfg.Agent.HistoryWindow)
	assert.Equal(t, 20, cfg.Conversations.Window)
	assert.Equal(t, 7*24*time.Hour, cfg.Conversations.MaxAge)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: postgres
  dsn: postgres://localhost/mila
vector:
  provider: chromem
  persist_path: /tmp/vectors
agent:
  max_rounds: 4
rate_limit:
  limit: 3
  window: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.Vector.Provider)
	assert.Equal(t, "/tmp/vectors", cfg.Vector.PersistPath)
	assert.Equal(t, 4, cfg.Agent.MaxRounds)
	assert.Equal(t, 3, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("MILA_TEST_KEY", "sk-secret")

	cfg, err := Parse([]byte(`
llm:
  api_key: ${MILA_TEST_KEY}
embedder:
  api_key: ${MILA_MISSING_KEY:-fallback}
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
	assert.Equal(t, "fallback", cfg.Embedder.APIKey)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad driver", "database:\n  driver: oracle\n"},
		{"bad llm provider", "llm:\n  provider: openai\n"},
		{"bad vector provider", "vector:\n  provider: pinecone\n"},
		{"negative rounds", "agent:\n  max_rounds: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

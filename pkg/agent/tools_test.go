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

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolDefinitions(t *testing.T) {
	tools := toolDefinitions()
	require.Len(t, tools, 2)

	byName := map[string]map[string]any{}
	for _, tool := range tools {
		byName[tool.Name] = tool.InputSchema
	}

	t.Run("knowledge_search schema", func(t *testing.T) {
		schema, ok := byName["knowledge_search"]
		require.True(t, ok)
		assert.Equal(t, "object", schema["type"])

		props, ok := schema["properties"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, props, "query")
		assert.Contains(t, props, "category")

		required, ok := schema["required"].([]any)
		require.True(t, ok)
		assert.Contains(t, required, "query")
		assert.NotContains(t, required, "category")

		category, ok := props["category"].(map[string]any)
		require.True(t, ok)
		enum, ok := category["enum"].([]any)
		require.True(t, ok)
		assert.Len(t, enum, 6)
		assert.Contains(t, enum, "pricing & policies")
	})

	t.Run("escalate schema", func(t *testing.T) {
		schema, ok := byName["escalate_to_human"]
		require.True(t, ok)

		required, ok := schema["required"].([]any)
		require.True(t, ok)
		assert.Contains(t, required, "reason")
	})
}

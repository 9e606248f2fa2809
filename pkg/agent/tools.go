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
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/mila-ai/mila/pkg/llms"
	"github.com/mila-ai/mila/pkg/protocol"
	"github.com/mila-ai/mila/pkg/store"
)

const (
	toolKnowledgeSearch = "knowledge_search"
	toolEscalate        = "escalate_to_human"
)

// escalationMessage is handed back to the model as the tool result of a
// successful handoff, for it to relay in the customer's language.
const escalationMessage = "Your question has been forwarded to our staff. They will contact you shortly to assist you personally."

// KnowledgeSearchInput is the argument schema for knowledge_search.
type KnowledgeSearchInput struct {
	Query    string `json:"query" jsonschema:"required,description=The search query describing what the customer wants to know"`
	Category string `json:"category,omitempty" jsonschema:"description=Optional category to narrow the search,enum=schedules,enum=classes,enum=purchases & registrations,enum=pricing & policies,enum=location & facilities,enum=general"`
}

// EscalateInput is the argument schema for escalate_to_human.
type EscalateInput struct {
	Reason string `json:"reason" jsonschema:"required,description=Short summary of why the conversation needs a human"`
}

func toolDefinitions() []llms.ToolDefinition {
	return []llms.ToolDefinition{
		{
			Name:        toolKnowledgeSearch,
			Description: "Search the studio's knowledge base for information relevant to the customer's question. Use this before answering any factual question about schedules, classes, pricing, policies, or facilities.",
			InputSchema: generateSchema(&KnowledgeSearchInput{}),
		},
		{
			Name:        toolEscalate,
			Description: "Hand the conversation over to human staff. Use this when the customer explicitly asks for a person, or when the knowledge base cannot answer their question.",
			InputSchema: generateSchema(&EscalateInput{}),
		},
	}
}

func generateSchema(v any) map[string]any {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal tool schema: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("failed to decode tool schema: %v", err))
	}
	return out
}

// searchHit is one ranked entry in a knowledge_search tool result.
type searchHit struct {
	Rank           int     `json:"rank"`
	Title          string  `json:"title"`
	Category       string  `json:"category"`
	Content        string  `json:"content"`
	RelevanceScore float32 `json:"relevance_score"`
}

// searchOutcome is the JSON payload handed back to the model after a
// knowledge_search call.
type searchOutcome struct {
	Found   bool        `json:"found"`
	Count   int         `json:"count"`
	Results []searchHit `json:"results,omitempty"`
	Message string      `json:"message,omitempty"`
}

// escalateOutcome is the JSON payload handed back to the model after an
// escalate_to_human call.
type escalateOutcome struct {
	Escalated bool   `json:"escalated"`
	Message   string `json:"message"`
}

// executeTool runs one tool call and returns the text handed back to the
// model. Tool failures are absorbed into the result text so the loop can
// continue; only the outer provider call can fail the turn.
func (a *Agent) executeTool(ctx context.Context, tenant *store.Tenant, userID string, call protocol.ToolCall) string {
	switch call.Name {
	case toolKnowledgeSearch:
		return a.runKnowledgeSearch(ctx, tenant.ID, call.Arguments)
	case toolEscalate:
		return a.runEscalate(ctx, tenant.ID, userID, call.Arguments)
	default:
		return fmt.Sprintf("Unknown tool: %s", call.Name)
	}
}

func (a *Agent) runKnowledgeSearch(ctx context.Context, tenantID string, args map[string]any) string {
	var input KnowledgeSearchInput
	if err := decodeArgs(args, &input); err != nil {
		return fmt.Sprintf("Invalid search arguments: %v", err)
	}
	if input.Query == "" {
		return "Invalid search arguments: query is required"
	}

	results, err := a.knowledge.Search(ctx, tenantID, input.Query, input.Category, a.searchLimit)
	if err != nil {
		a.logger.Warn("knowledge search failed", "tenant_id", tenantID, "error", err)
		return fmt.Sprintf("Search failed: %v", err)
	}
	if len(results) == 0 {
		return encodeOutcome(searchOutcome{
			Found:   false,
			Message: "No relevant knowledge base entries found.",
		})
	}

	hits := make([]searchHit, 0, len(results))
	for i, r := range results {
		hits = append(hits, searchHit{
			Rank:           i + 1,
			Title:          r.Payload.Title,
			Category:       r.Payload.Category,
			Content:        r.Payload.Content,
			RelevanceScore: r.Score,
		})
	}
	return encodeOutcome(searchOutcome{Found: true, Count: len(hits), Results: hits})
}

// runEscalate records the escalation. The acknowledgement goes back to the
// model as the tool result, so the final wording reaches the customer in
// their own language.
func (a *Agent) runEscalate(ctx context.Context, tenantID, userID string, args map[string]any) string {
	var input EscalateInput
	if err := decodeArgs(args, &input); err != nil {
		return fmt.Sprintf("Invalid escalation arguments: %v", err)
	}
	if input.Reason == "" {
		input.Reason = "Customer requested human assistance"
	}

	err := a.store.InsertEscalation(ctx, &store.Escalation{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		Reason:   input.Reason,
	})
	if err != nil {
		a.logger.Error("failed to record escalation", "tenant_id", tenantID, "error", err)
		return fmt.Sprintf("Escalation failed: %v", err)
	}

	a.logger.Info("conversation escalated", "tenant_id", tenantID, "user_id", userID)
	return encodeOutcome(escalateOutcome{Escalated: true, Message: escalationMessage})
}

func encodeOutcome(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("Tool failed: %v", err)
	}
	return string(data)
}

func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

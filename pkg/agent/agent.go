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

// Package agent implements the tool-augmented response loop: it composes
// the tenant persona into a system prompt, lets the model call tools
// until it produces a final text answer, and persists the exchange.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mila-ai/mila/pkg/config"
	"github.com/mila-ai/mila/pkg/knowledge"
	"github.com/mila-ai/mila/pkg/llms"
	"github.com/mila-ai/mila/pkg/protocol"
	"github.com/mila-ai/mila/pkg/store"
)

// ErrMaxRoundsExceeded reports that the model kept requesting tools past
// the round budget without producing a final answer.
var ErrMaxRoundsExceeded = fmt.Errorf("tool loop exceeded maximum rounds")

// Agent answers one inbound message per call. All dependencies are
// injected; the agent itself is stateless and safe for concurrent use.
type Agent struct {
	provider  llms.Provider
	knowledge *knowledge.Service
	store     *store.Store
	logger    *slog.Logger

	maxRounds     int
	maxTokens     int
	searchLimit   int
	historyWindow int
	windowSize    int
}

// New builds an agent from the resolved configuration.
func New(provider llms.Provider, kb *knowledge.Service, s *store.Store, cfg *config.Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		provider:      provider,
		knowledge:     kb,
		store:         s,
		logger:        logger,
		maxRounds:     cfg.Agent.MaxRounds,
		maxTokens:     cfg.LLM.MaxTokens,
		searchLimit:   cfg.Agent.SearchLimit,
		historyWindow: cfg.Agent.HistoryWindow,
		windowSize:    cfg.Conversations.Window,
	}
}

// Respond produces the assistant's reply to one user message. On success
// the user message and the final reply are appended to the conversation;
// intermediate tool traffic is not persisted.
func (a *Agent) Respond(ctx context.Context, tenant *store.Tenant, userID, message string) (string, error) {
	history, err := a.store.History(ctx, tenant.ID, userID)
	if err != nil {
		return "", err
	}
	if a.historyWindow > 0 && len(history) > a.historyWindow {
		history = history[len(history)-a.historyWindow:]
	}

	turns := make([]protocol.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, protocol.UserTurn(message))

	system := a.systemPrompt(tenant)
	tools := toolDefinitions()

	var reply string

	for round := 0; ; round++ {
		if round >= a.maxRounds {
			a.logger.Error("tool loop did not converge",
				"tenant_id", tenant.ID, "rounds", round)
			return "", ErrMaxRoundsExceeded
		}

		resp, err := a.provider.Generate(ctx, llms.Request{
			System:    system,
			Turns:     turns,
			Tools:     tools,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			return "", err
		}

		if resp.StopReason != llms.StopReasonToolUse {
			reply = resp.Text()
			break
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			reply = resp.Text()
			break
		}

		turns = append(turns, protocol.Turn{
			Role:      protocol.RoleAssistant,
			Content:   resp.Text(),
			ToolCalls: calls,
		})

		results := make([]protocol.ToolResult, 0, len(calls))
		for _, call := range calls {
			results = append(results, protocol.ToolResult{
				ToolCallID: call.ID,
				Content:    a.executeTool(ctx, tenant, userID, call),
			})
		}
		turns = append(turns, protocol.Turn{
			Role:        protocol.RoleToolResult,
			ToolResults: results,
		})
	}

	if reply == "" {
		a.logger.Error("model returned empty reply", "tenant_id", tenant.ID)
		return "", fmt.Errorf("model returned an empty reply")
	}

	if err := a.store.AppendTurns(ctx, tenant.ID, userID, []protocol.Turn{
		protocol.UserTurn(message),
		protocol.AssistantTurn(reply),
	}, a.windowSize); err != nil {
		// The reply is already computed; a failed history write should
		// not cost the user their answer.
		a.logger.Error("failed to persist conversation",
			"tenant_id", tenant.ID, "error", err)
	}

	return reply, nil
}

// systemPrompt composes the tenant persona. The assistant speaks as the
// studio's own receptionist, never as a generic bot.
func (a *Agent) systemPrompt(tenant *store.Tenant) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are Mila, the virtual receptionist for %s.\n", tenant.Name)
	b.WriteString("You answer customer messages over chat: briefly, warmly, and in the customer's language.\n")
	b.WriteString("Ground every factual answer in the knowledge_search tool. ")
	b.WriteString("If the knowledge base does not cover the question, or the customer asks for a person, use escalate_to_human. ")
	b.WriteString("Always escalate health concerns, bookings, and payment issues.\n")
	b.WriteString("Never invent schedules, prices, or policies.\n")

	if g := tenant.Settings.GreetingMessage; g != "" {
		fmt.Fprintf(&b, "\nGreeting for new conversations:\n%s\n", g)
	}
	if g := tenant.Settings.BasicGuidelines; g != "" {
		fmt.Fprintf(&b, "\nStudio guidelines:\n%s\n", g)
	}

	fmt.Fprintf(&b, "\nThe current date and time is %s. Use it as the baseline when answering schedule questions.",
		time.Now().Format("Monday, 2 January 2006, 15:04"))
	return b.String()
}

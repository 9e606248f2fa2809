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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mila-ai/mila/pkg/config"
	milaerrors "github.com/mila-ai/mila/pkg/errors"
	"github.com/mila-ai/mila/pkg/protocol"
	"github.com/mila-ai/mila/pkg/retry"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider implements Provider against the Anthropic messages API.
type AnthropicProvider struct {
	cfg     config.LLMConfig
	client  *http.Client
	retryer *retry.Retryer
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string         `json:"type"`                  // "text", "tool_use", "tool_result"
	Text      string         `json:"text,omitempty"`        // for text
	ID        string         `json:"id,omitempty"`          // for tool_use
	Name      string         `json:"name,omitempty"`        // for tool_use
	Input     map[string]any `json:"input,omitempty"`       // for tool_use
	ToolUseID string         `json:"tool_use_id,omitempty"` // for tool_result
	Content   string         `json:"content,omitempty"`     // for tool_result
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider creates an Anthropic provider from config.
func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, &milaerrors.ValidationError{Field: "llm.api_key", Message: "required for anthropic"}
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &AnthropicProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: retry.New(retry.Config{MaxRetries: cfg.MaxRetries}),
	}, nil
}

// Model returns the configured model name.
func (p *AnthropicProvider) Model() string { return p.cfg.Model }

// Close releases provider resources.
func (p *AnthropicProvider) Close() error { return nil }

// Generate issues one messages-API request, retrying transient failures.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	wireReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := retry.Result(ctx, p.retryer, "anthropic generate", func() (*anthropicResponse, error) {
		return p.post(ctx, wireReq)
	})
	if err != nil {
		return nil, err
	}

	return convertResponse(resp), nil
}

// buildRequest maps the transcript onto Anthropic's wire format. Tool-result
// turns become user messages with tool_result blocks; assistant turns that
// carry tool calls become content-block arrays.
func (p *AnthropicProvider) buildRequest(req Request) (*anthropicRequest, error) {
	messages := make([]anthropicMessage, 0, len(req.Turns))

	for _, turn := range req.Turns {
		switch turn.Role {
		case protocol.RoleToolResult:
			blocks := make([]anthropicContent, 0, len(turn.ToolResults))
			for _, result := range turn.ToolResults {
				blocks = append(blocks, anthropicContent{
					Type:      "tool_result",
					ToolUseID: result.ToolCallID,
					Content:   result.Content,
				})
			}
			messages = append(messages, anthropicMessage{Role: "user", Content: blocks})

		case protocol.RoleAssistant:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, anthropicMessage{Role: "assistant", Content: turn.Content})
				continue
			}
			var blocks []anthropicContent
			if turn.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Arguments,
				})
			}
			messages = append(messages, anthropicMessage{Role: "assistant", Content: blocks})

		case protocol.RoleUser:
			messages = append(messages, anthropicMessage{Role: "user", Content: turn.Content})

		default:
			return nil, &milaerrors.ValidationError{Field: "turn.role", Message: fmt.Sprintf("unsupported role %q", turn.Role)}
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	wireReq := &anthropicRequest{
		Model:     p.cfg.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
		System:    req.System,
	}

	for _, tool := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	return wireReq, nil
}

func (p *AnthropicProvider) post(ctx context.Context, request *anthropicRequest) (*anthropicResponse, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &milaerrors.ProviderError{
			Provider:  "anthropic",
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(httpResp.Body)

	if httpResp.StatusCode != http.StatusOK {
		msg := string(body)
		var errResp anthropicResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil {
			msg = errResp.Error.Message
		}
		return nil, milaerrors.NewProviderError("anthropic", httpResp.StatusCode, msg)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &milaerrors.ProviderError{Provider: "anthropic", Message: resp.Error.Message}
	}

	return &resp, nil
}

func convertResponse(resp *anthropicResponse) *Response {
	out := &Response{
		StopReason: StopReasonEnd,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if resp.StopReason == "tool_use" {
		out.StopReason = StopReasonToolUse
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Blocks = append(out.Blocks, Block{Type: BlockTypeText, Text: block.Text})
		case "tool_use":
			out.Blocks = append(out.Blocks, Block{
				Type: BlockTypeToolUse,
				ToolCall: &protocol.ToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: block.Input,
				},
			})
		}
	}
	return out
}

var _ Provider = (*AnthropicProvider)(nil)

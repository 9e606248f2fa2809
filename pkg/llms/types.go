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

// Package llms provides the model-provider contract and the Anthropic
// implementation of it.
package llms

import (
	"context"

	"github.com/mila-ai/mila/pkg/protocol"
)

// StopReason signals how the model finished a turn.
type StopReason string

const (
	// StopReasonToolUse means the response contains tool-call blocks the
	// caller must execute before asking the model to continue.
	StopReasonToolUse StopReason = "tool_use"

	// StopReasonEnd means the response is a plain completion.
	StopReasonEnd StopReason = "end"
)

// BlockType discriminates response content blocks.
type BlockType string

const (
	BlockTypeText    BlockType = "text"
	BlockTypeToolUse BlockType = "tool_use"
)

// Block is one content block of a model response: either text or a tool call.
type Block struct {
	Type     BlockType
	Text     string
	ToolCall *protocol.ToolCall
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is one model invocation: system instruction, transcript, and the
// tools the model may call.
type Request struct {
	System    string
	Turns     []protocol.Turn
	Tools     []ToolDefinition
	MaxTokens int
}

// Response is the provider-agnostic view of a model reply.
type Response struct {
	StopReason StopReason
	Blocks     []Block
	TokensUsed int
}

// Text concatenates the text blocks in response order.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Blocks {
		if b.Type == BlockTypeText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns all tool-call blocks in response order.
func (r *Response) ToolCalls() []protocol.ToolCall {
	var calls []protocol.ToolCall
	for _, b := range r.Blocks {
		if b.Type == BlockTypeToolUse && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// Provider is a language model that can drive the tool-use protocol.
type Provider interface {
	// Generate issues one request and returns the complete response.
	// Transient upstream failures are retried internally; what surfaces is
	// either a final response or an *errors.ProviderError.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Model returns the model name in use.
	Model() string

	// Close releases provider resources.
	Close() error
}

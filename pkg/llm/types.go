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
// Package llm defines provider-neutral types for conversing with a language
// model, including tool-calling and token streaming.
package llm

import (
	"context"

	"github.com/teradata-labs/weft/pkg/tool"
)

// Message represents a single message in a conversation.
type Message struct {
	// Role is one of "system", "user", "assistant", "tool"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// ToolCalls are tool invocations requested by the assistant
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolUseID links a tool-role message to the invocation it answers
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Usage tracks token consumption for one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a provider-neutral model response.
type Response struct {
	Content    string     `json:"content"`
	StopReason string     `json:"stop_reason"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
}

// TokenCallback receives each streamed token as it arrives.
type TokenCallback func(token string)

// Provider is the minimal model interface.
type Provider interface {
	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string

	// Chat sends a conversation and returns the complete response
	Chat(ctx context.Context, messages []Message, tools []tool.Tool) (*Response, error)
}

// StreamingProvider is implemented by providers that can stream tokens.
type StreamingProvider interface {
	Provider

	// ChatStream streams tokens through the callback and returns the
	// complete response once the stream ends
	ChatStream(ctx context.Context, messages []Message, tools []tool.Tool, cb TokenCallback) (*Response, error)
}

// SupportsStreaming reports whether the provider can stream tokens.
func SupportsStreaming(p Provider) (StreamingProvider, bool) {
	sp, ok := p.(StreamingProvider)
	return sp, ok
}

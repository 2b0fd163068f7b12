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
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/tool"
	"go.uber.org/zap"
)

const (
	// DefaultMaxTurns bounds the reasoning loop; each turn is one model
	// response plus its tool executions
	DefaultMaxTurns = 30

	// agentNode labels content produced by the main reasoning model
	agentNode = "agent"

	// QueryToolName is the tool whose query argument feeds the governor's
	// duplicate-query detection
	QueryToolName = "sql_db_query"
)

// Config holds engine settings.
type Config struct {
	// MaxTurns bounds the reasoning loop (default 30)
	MaxTurns int

	// SystemPrompt primes the model; empty uses DefaultSystemPrompt
	SystemPrompt string
}

// DefaultSystemPrompt primes the model as a SQL analyst over the registered
// tools.
const DefaultSystemPrompt = `You are a careful SQL analyst. Answer the user's question about their database.

Work step by step: list tables, inspect relevant schemas, validate queries before running them, then run read-only SQL. Never modify data. When you have the answer, present it clearly with a short summary of what you found.`

// Engine runs the reasoning loop for one query at a time. One Engine is
// shared; per-run state lives in the Stream each Run call returns.
type Engine struct {
	provider llm.Provider
	registry *tool.Registry
	gov      *governor.Governor
	config   Config
}

// New creates an engine over a provider, a tool registry and a governor.
func New(provider llm.Provider, registry *tool.Registry, gov *governor.Governor, config Config) *Engine {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	return &Engine{
		provider: provider,
		registry: registry,
		gov:      gov,
		config:   config,
	}
}

// runStream is the Stream implementation backing one Run call.
type runStream struct {
	ch  chan Event
	mu  sync.Mutex
	err error
}

func (s *runStream) Events() <-chan Event { return s.ch }

func (s *runStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *runStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// send delivers an event unless the run context ended.
func (s *runStream) send(ctx context.Context, ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run starts the reasoning loop for one question and returns its event
// stream. The loop ends when the model stops calling tools, the turn budget
// runs out, the governor halts the session, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sessionID, question string) Stream {
	s := &runStream{ch: make(chan Event, 64)}
	go func() {
		defer close(s.ch)
		if err := e.loop(ctx, sessionID, question, s); err != nil {
			s.fail(err)
		}
	}()
	return s
}

func (e *Engine) loop(ctx context.Context, sessionID, question string, s *runStream) error {
	messages := []llm.Message{
		{Role: "system", Content: e.config.SystemPrompt},
		{Role: "user", Content: question},
	}

	counter := GetTokenCounter()

	for turn := 0; turn < e.config.MaxTurns; turn++ {
		if halted, reason := e.gov.Halted(sessionID); halted {
			log.Warn("engine stopping on governor halt",
				zap.String("session_id", sessionID),
				zap.String("reason", reason))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Debug("engine turn",
			zap.String("session_id", sessionID),
			zap.Int("turn", turn),
			zap.Int("prompt_tokens_est", counter.CountTokens(question)))

		resp, err := e.converse(ctx, messages, s)
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		// Announce the batch of invocations before executing them
		invocations := make([]ToolRecord, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			invocations = append(invocations, ToolRecord{
				Kind:  KindInvocation,
				Name:  tc.Name,
				Input: tc.Input,
			})
		}
		if !s.send(ctx, StructuralEvent(map[string][]ToolRecord{agentNode: invocations})) {
			return ctx.Err()
		}

		for _, tc := range resp.ToolCalls {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			output, success := e.executeToolCall(ctx, sessionID, tc)

			if !s.send(ctx, StructuralEvent(map[string][]ToolRecord{agentNode: {{
				Kind:    KindResult,
				Name:    tc.Name,
				Output:  output,
				Success: success,
			}}})) {
				return ctx.Err()
			}

			messages = append(messages, llm.Message{
				Role:      "tool",
				Content:   output,
				ToolUseID: tc.ID,
			})
		}
	}

	log.Warn("engine exhausted its turn budget",
		zap.String("session_id", sessionID),
		zap.Int("max_turns", e.config.MaxTurns))
	return nil
}

// converse issues one model call, streaming tokens as content events when
// the provider supports it.
func (e *Engine) converse(ctx context.Context, messages []llm.Message, s *runStream) (*llm.Response, error) {
	tools := e.registry.ListTools()

	if sp, ok := llm.SupportsStreaming(e.provider); ok {
		return sp.ChatStream(ctx, messages, tools, func(token string) {
			s.send(ctx, ContentEvent(agentNode, token))
		})
	}

	resp, err := e.provider.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		s.send(ctx, ContentEvent(agentNode, resp.Content))
	}
	return resp, nil
}

// executeToolCall runs one tool invocation under governor admission and
// records the outcome. A denied call never reaches the tool; the denial
// reason becomes the tool result so the model can adjust course.
func (e *Engine) executeToolCall(ctx context.Context, sessionID string, tc llm.ToolCall) (string, bool) {
	queryText := extractQueryText(tc)

	allowed, reason := e.gov.CheckBeforeCall(sessionID, tc.Name, queryText)
	if !allowed {
		log.Warn("tool call denied",
			zap.String("session_id", sessionID),
			zap.String("tool", tc.Name),
			zap.String("reason", reason))
		return reason, false
	}

	t, found := e.registry.Get(tc.Name)
	if !found {
		e.gov.RecordCall(sessionID, tc.Name, false, queryText)
		return fmt.Sprintf("Error: unknown tool %q", tc.Name), false
	}

	if err := tool.ValidateInput(t, tc.Input); err != nil {
		e.gov.RecordCall(sessionID, tc.Name, false, queryText)
		return fmt.Sprintf("Error: %v", err), false
	}

	start := time.Now()
	result, err := t.Execute(ctx, tc.Input)
	elapsed := time.Since(start)

	success := err == nil && result != nil && result.Success
	e.gov.RecordCall(sessionID, tc.Name, success, queryText)

	log.Debug("tool executed",
		zap.String("session_id", sessionID),
		zap.String("tool", tc.Name),
		zap.String("input", marshalInput(tc.Input)),
		zap.Bool("success", success),
		zap.Duration("elapsed", elapsed))

	if err != nil {
		return fmt.Sprintf("Error: %v", err), false
	}
	if result == nil {
		return "", false
	}
	if !result.Success && result.Error != nil {
		msg := "Error: " + result.Error.Message
		if result.Error.Suggestion != "" {
			msg += "\nSuggestion: " + result.Error.Suggestion
		}
		return msg, false
	}
	return result.Text(), success
}

// extractQueryText pulls the SQL text out of a query-tool invocation so the
// governor can fingerprint it.
func extractQueryText(tc llm.ToolCall) string {
	if tc.Name != QueryToolName {
		return ""
	}
	q, _ := tc.Input["query"].(string)
	return strings.TrimSpace(q)
}

// marshalInput renders tool input for logging.
func marshalInput(input map[string]interface{}) string {
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

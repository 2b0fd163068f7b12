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
	"strings"
	"testing"

	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/tool"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "test-model" }

func (p *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ []tool.Tool) (*llm.Response, error) {
	if p.calls >= len(p.responses) {
		return &llm.Response{Content: "done", StopReason: "end_turn"}, nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

// echoTool records invocations and returns a fixed payload.
type echoTool struct {
	name     string
	payload  string
	executed int
}

func (t *echoTool) Name() string             { return t.name }
func (t *echoTool) Description() string      { return "test tool" }
func (t *echoTool) Dialect() string          { return "" }
func (t *echoTool) InputSchema() *tool.JSONSchema {
	return tool.NewObjectSchema("test", nil, nil)
}

func (t *echoTool) Execute(_ context.Context, _ map[string]interface{}) (*tool.Result, error) {
	t.executed++
	return &tool.Result{Success: true, Data: t.payload}, nil
}

func collect(s Stream) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestEngineToolLoop(t *testing.T) {
	lister := &echoTool{name: "sql_db_list_tables", payload: "customers, orders"}
	registry := tool.NewRegistry()
	registry.Register(lister)

	provider := &scriptedProvider{responses: []*llm.Response{
		{
			Content:    "Checking the tables first.",
			StopReason: "tool_use",
			ToolCalls:  []llm.ToolCall{{ID: "tc1", Name: "sql_db_list_tables", Input: map[string]interface{}{}}},
		},
		{Content: "There are two tables.", StopReason: "end_turn"},
	}}

	gov := governor.New(governor.DefaultConfig())
	e := New(provider, registry, gov, Config{})

	events := collect(e.Run(context.Background(), "sess", "what tables exist?"))

	if lister.executed != 1 {
		t.Fatalf("expected one tool execution, got %d", lister.executed)
	}

	var contents []string
	var invocations, results int
	for _, ev := range events {
		switch ev.Mode {
		case ModeContent:
			contents = append(contents, ev.Text)
		case ModeStructural:
			for _, recs := range ev.Records {
				for _, rec := range recs {
					if rec.Kind == KindInvocation {
						invocations++
					} else {
						results++
						if rec.Output != "customers, orders" {
							t.Errorf("result output = %q", rec.Output)
						}
						if !rec.Success {
							t.Error("result should be marked successful")
						}
					}
				}
			}
		}
	}

	if invocations != 1 || results != 1 {
		t.Errorf("expected 1 invocation and 1 result, got %d / %d", invocations, results)
	}
	joined := strings.Join(contents, "")
	if !strings.Contains(joined, "Checking the tables") || !strings.Contains(joined, "two tables") {
		t.Errorf("content events missing model text: %q", joined)
	}

	// The governor saw the call
	stats := gov.Stats("sess")
	if stats.TotalCalls != 1 || stats.ToolCallCounts["sql_db_list_tables"] != 1 {
		t.Errorf("governor stats = %+v", stats)
	}
}

func TestEngineDenialFeedsBack(t *testing.T) {
	lister := &echoTool{name: "sql_db_list_tables", payload: "ok"}
	registry := tool.NewRegistry()
	registry.Register(lister)

	provider := &scriptedProvider{responses: []*llm.Response{
		{
			StopReason: "tool_use",
			ToolCalls:  []llm.ToolCall{{ID: "tc1", Name: "sql_db_list_tables", Input: map[string]interface{}{}}},
		},
		{Content: "stopping", StopReason: "end_turn"},
	}}

	cfg := governor.DefaultConfig()
	cfg.MaxCallsPerTool = 0 // every call denied, session halts
	gov := governor.New(cfg)
	e := New(provider, registry, gov, Config{})

	events := collect(e.Run(context.Background(), "sess", "q"))

	if lister.executed != 0 {
		t.Fatal("denied call must not reach the tool")
	}

	var denial string
	for _, ev := range events {
		if ev.Mode != ModeStructural {
			continue
		}
		for _, recs := range ev.Records {
			for _, rec := range recs {
				if rec.Kind == KindResult {
					denial = rec.Output
					if rec.Success {
						t.Error("denied call must be reported as failed")
					}
				}
			}
		}
	}
	if !strings.Contains(denial, "budget") {
		t.Errorf("denial reason should reach the model, got %q", denial)
	}

	// The halt stops the loop before the next model turn
	if provider.calls != 1 {
		t.Errorf("expected the loop to stop after the halt, model was called %d times", provider.calls)
	}
}

func TestEngineUnknownTool(t *testing.T) {
	registry := tool.NewRegistry()
	provider := &scriptedProvider{responses: []*llm.Response{
		{
			StopReason: "tool_use",
			ToolCalls:  []llm.ToolCall{{ID: "tc1", Name: "no_such_tool", Input: map[string]interface{}{}}},
		},
		{Content: "ok", StopReason: "end_turn"},
	}}

	gov := governor.New(governor.DefaultConfig())
	e := New(provider, registry, gov, Config{})

	events := collect(e.Run(context.Background(), "sess", "q"))

	var sawFailure bool
	for _, ev := range events {
		if ev.Mode != ModeStructural {
			continue
		}
		for _, recs := range ev.Records {
			for _, rec := range recs {
				if rec.Kind == KindResult && !rec.Success && strings.Contains(rec.Output, "unknown tool") {
					sawFailure = true
				}
			}
		}
	}
	if !sawFailure {
		t.Error("unknown tool should produce a failed result record")
	}
	if gov.Stats("sess").FailedCalls != 1 {
		t.Error("unknown tool should be recorded as a failure")
	}
}

func TestTokenCounterFallback(t *testing.T) {
	tc := &TokenCounter{encoder: nil}
	if got := tc.CountTokens("12345678"); got != 2 {
		t.Errorf("fallback estimate = %d, want 2", got)
	}
	if got := tc.CountMessages([]string{"12345678", ""}); got != 22 {
		t.Errorf("message estimate = %d, want 22", got)
	}
}

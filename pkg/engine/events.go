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
// Package engine drives the reasoning loop for one query: it prompts the LLM
// with the registered tools, executes admitted tool calls, and publishes the
// run as an ordered stream of content and structural events.
package engine

// EventMode distinguishes the two event categories a run emits.
type EventMode int

const (
	// ModeContent carries incremental text attributed to a named node
	ModeContent EventMode = iota
	// ModeStructural carries batches of tool invocation/result records
	ModeStructural
)

// RecordKind distinguishes tool invocations from tool results.
type RecordKind int

const (
	KindInvocation RecordKind = iota
	KindResult
)

// ToolRecord describes one tool invocation or one tool result.
type ToolRecord struct {
	Kind    RecordKind
	Name    string
	Input   map[string]interface{}
	Output  string
	Success bool
}

// Event is one item in a run's ordered event stream.
type Event struct {
	Mode EventMode

	// Content fields (ModeContent)
	Node string
	Text string

	// Structural payload (ModeStructural): tool records grouped by node
	Records map[string][]ToolRecord
}

// ContentEvent builds a content event.
func ContentEvent(node, text string) Event {
	return Event{Mode: ModeContent, Node: node, Text: text}
}

// StructuralEvent builds a structural event.
func StructuralEvent(records map[string][]ToolRecord) Event {
	return Event{Mode: ModeStructural, Records: records}
}

// Stream is an ordered event source for one run. Events returns a channel
// closed on exhaustion; Err reports the terminal error, if any, once the
// channel is closed.
type Stream interface {
	Events() <-chan Event
	Err() error
}

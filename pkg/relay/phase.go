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
package relay

import "strings"

// Phase is the presentation category of currently streamed content.
type Phase int

const (
	PhasePlanning Phase = iota
	PhaseExecution
	PhaseSubAgent
	PhaseReporting
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "planning"
	case PhaseExecution:
		return "execution"
	case PhaseSubAgent:
		return "sub-agent"
	case PhaseReporting:
		return "reporting"
	default:
		return "unknown"
	}
}

// ReportBoundaryMarker separates narrative output from the final report
// payload. Content containing it is passed through unmodified and flushed
// immediately.
const ReportBoundaryMarker = "REPORT_HTML_"

// subAgentLabels maps known delegated-executor node names to display labels.
var subAgentLabels = map[string]string{
	"data_analyst":  "📊 Data analysis",
	"chart_builder": "📈 Chart generation",
	"report_writer": "📝 Report drafting",
}

// subAgentNodePrefix marks nodes that run as delegated sub-tasks.
const subAgentNodePrefix = "subagent"

// PhaseTracker classifies content events into phases and manages the
// open/close lifecycle of collapsible output sections. One instance exists
// per run and is owned by the controller; no locking.
type PhaseTracker struct {
	current        Phase
	planningOpen   bool
	subAgentOpen   bool
	hasToolCalled  bool
	hasSentContent bool
	currentNode    string
	started        bool
}

// NewPhaseTracker creates a tracker for one run.
func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{current: PhasePlanning}
}

// MarkToolCalled records that at least one tool ran in this run.
func (t *PhaseTracker) MarkToolCalled() {
	t.hasToolCalled = true
}

// Phase returns the current phase.
func (t *PhaseTracker) Phase() Phase {
	return t.current
}

// DetectPhase classifies a content event. Priority: delegated sub-task node,
// then report boundary, then pre-tool planning, then plain execution.
func (t *PhaseTracker) DetectPhase(node, content string) Phase {
	if isSubAgentNode(node) {
		return PhaseSubAgent
	}
	if strings.Contains(content, ReportBoundaryMarker) {
		return PhaseReporting
	}
	if !t.hasToolCalled {
		return PhasePlanning
	}
	return PhaseExecution
}

// Transition moves the tracker to a new phase and returns the text fragments
// (section markers) the caller must emit, in order. Re-entering the current
// phase is a no-op.
func (t *PhaseTracker) Transition(phase Phase, node string) []string {
	if t.started && phase == t.current {
		// Re-entering the same phase is a no-op, except when a different
		// sub-agent node starts its own section
		if phase != PhaseSubAgent || node == t.currentNode {
			t.currentNode = node
			return nil
		}
	}
	t.currentNode = node

	var out []string
	switch phase {
	case PhasePlanning:
		if !t.planningOpen {
			out = append(out, t.closeMarkers()...)
			out = append(out, "<details open>\n<summary>🧠 Planning</summary>\n\n")
			t.planningOpen = true
		}
	case PhaseSubAgent:
		out = append(out, t.closeMarkers()...)
		out = append(out, "<details>\n<summary>"+subAgentLabel(node)+"</summary>\n\n")
		t.subAgentOpen = true
	case PhaseExecution:
		out = append(out, t.closeMarkers()...)
		t.hasSentContent = true
	case PhaseReporting:
		out = append(out, t.closeMarkers()...)
	}

	t.current = phase
	t.started = true
	return out
}

// CloseSections closes any open section. Idempotent; invoked on every exit
// path before the run ends.
func (t *PhaseTracker) CloseSections() []string {
	return t.closeMarkers()
}

func (t *PhaseTracker) closeMarkers() []string {
	if !t.planningOpen && !t.subAgentOpen {
		return nil
	}
	t.planningOpen = false
	t.subAgentOpen = false
	return []string{"\n</details>\n\n"}
}

func isSubAgentNode(node string) bool {
	if strings.HasPrefix(node, subAgentNodePrefix) {
		return true
	}
	_, ok := subAgentLabels[node]
	return ok
}

func subAgentLabel(node string) string {
	if label, ok := subAgentLabels[node]; ok {
		return label
	}
	return "🤖 sub-agent: " + strings.TrimPrefix(strings.TrimPrefix(node, subAgentNodePrefix), "_")
}

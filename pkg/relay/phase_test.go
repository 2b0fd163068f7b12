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

import (
	"strings"
	"testing"
)

func countMarkers(fragments []string) (opens, closes int) {
	for _, f := range fragments {
		opens += strings.Count(f, "<details")
		closes += strings.Count(f, "</details>")
	}
	return opens, closes
}

func TestDetectPhase(t *testing.T) {
	tests := []struct {
		name       string
		node       string
		content    string
		toolCalled bool
		want       Phase
	}{
		{"sub-agent node wins", "subagent_charts", "text", true, PhaseSubAgent},
		{"known sub-agent label", "data_analyst", "text", false, PhaseSubAgent},
		{"report marker", "agent", "here is REPORT_HTML_<div>", true, PhaseReporting},
		{"report marker beats planning", "agent", "REPORT_HTML_", false, PhaseReporting},
		{"no tool yet is planning", "agent", "thinking about tables", false, PhasePlanning},
		{"after tools is execution", "agent", "running the query", true, PhaseExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewPhaseTracker()
			if tt.toolCalled {
				tracker.MarkToolCalled()
			}
			if got := tracker.DetectPhase(tt.node, tt.content); got != tt.want {
				t.Errorf("DetectPhase() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSectionBalance(t *testing.T) {
	sequences := [][]Phase{
		{PhasePlanning, PhasePlanning, PhaseExecution, PhaseReporting},
		{PhasePlanning, PhaseSubAgent, PhaseExecution},
		{PhasePlanning, PhaseSubAgent, PhaseSubAgent, PhaseReporting},
		{PhaseExecution, PhaseExecution},
		{PhasePlanning}, // run that ends mid-planning
		{PhaseSubAgent, PhasePlanning, PhaseSubAgent},
	}

	for i, seq := range sequences {
		tracker := NewPhaseTracker()
		var emitted []string
		for _, p := range seq {
			emitted = append(emitted, tracker.Transition(p, "agent")...)
		}
		// Finalizer path
		emitted = append(emitted, tracker.CloseSections()...)

		opens, closes := countMarkers(emitted)
		if opens != closes {
			t.Errorf("sequence %d: %d opens vs %d closes (fragments: %q)", i, opens, closes, emitted)
		}
	}
}

func TestCloseSectionsIdempotent(t *testing.T) {
	tracker := NewPhaseTracker()
	tracker.Transition(PhasePlanning, "agent")

	first := tracker.CloseSections()
	if len(first) == 0 {
		t.Fatal("open planning section should produce a close marker")
	}
	if second := tracker.CloseSections(); len(second) != 0 {
		t.Errorf("second CloseSections should emit nothing, got %q", second)
	}
}

func TestAtMostOneSectionOpen(t *testing.T) {
	tracker := NewPhaseTracker()

	var emitted []string
	emitted = append(emitted, tracker.Transition(PhasePlanning, "agent")...)
	emitted = append(emitted, tracker.Transition(PhaseSubAgent, "subagent_report")...)

	// Moving planning -> sub-agent must close before opening
	joined := strings.Join(emitted, "")
	firstClose := strings.Index(joined, "</details>")
	secondOpen := strings.LastIndex(joined, "<details")
	if firstClose == -1 || secondOpen == -1 || firstClose > secondOpen {
		t.Errorf("sub-agent section must open after planning closes, got %q", joined)
	}

	if tracker.planningOpen && tracker.subAgentOpen {
		t.Error("both sections open at once")
	}
}

func TestReenteringPhaseIsNoop(t *testing.T) {
	tracker := NewPhaseTracker()
	tracker.Transition(PhasePlanning, "agent")
	if out := tracker.Transition(PhasePlanning, "agent"); len(out) != 0 {
		t.Errorf("re-entering planning should emit nothing, got %q", out)
	}

	tracker.MarkToolCalled()
	tracker.Transition(PhaseExecution, "agent")
	if out := tracker.Transition(PhaseExecution, "other"); len(out) != 0 {
		t.Errorf("re-entering execution should emit nothing, got %q", out)
	}
}

func TestSubAgentLabels(t *testing.T) {
	if got := subAgentLabel("data_analyst"); got != "📊 Data analysis" {
		t.Errorf("known node label = %q", got)
	}
	if got := subAgentLabel("subagent_custom"); !strings.Contains(got, "custom") {
		t.Errorf("fallback label should carry the node name, got %q", got)
	}
}

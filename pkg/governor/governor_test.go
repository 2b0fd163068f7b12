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
package governor

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PatternWindow = 4
	return cfg
}

func TestPerToolBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCallsPerTool = 5
	g := New(cfg)

	for i := 0; i < 5; i++ {
		allowed, reason := g.CheckBeforeCall("s1", "run_query", "")
		if !allowed {
			t.Fatalf("call %d should be allowed, got denied: %s", i+1, reason)
		}
		g.RecordCall("s1", "run_query", true, "")
	}

	allowed, reason := g.CheckBeforeCall("s1", "run_query", "")
	if allowed {
		t.Fatal("call past per-tool budget should be denied")
	}
	if reason == "" {
		t.Error("denial should carry a reason")
	}

	// Halt is sticky: a different tool is denied with the same reason
	allowed, reason2 := g.CheckBeforeCall("s1", "list_tables", "")
	if allowed {
		t.Fatal("halted session should deny every tool")
	}
	if reason2 != reason {
		t.Errorf("sticky halt should repeat the reason, got %q vs %q", reason2, reason)
	}

	// Until the session is reset
	g.ResetSession("s1")
	if allowed, _ := g.CheckBeforeCall("s1", "run_query", ""); !allowed {
		t.Error("reset session should allow calls again")
	}
}

func TestTotalBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalCalls = 6
	cfg.MaxConsecutiveSameTool = 100
	g := New(cfg)

	tools := []string{"list_tables", "table_schema", "run_query"}
	for i := 0; i < 6; i++ {
		tool := tools[i%len(tools)]
		if allowed, reason := g.CheckBeforeCall("s1", tool, ""); !allowed {
			t.Fatalf("call %d should be allowed: %s", i+1, reason)
		}
		g.RecordCall("s1", tool, true, "")
	}

	if allowed, _ := g.CheckBeforeCall("s1", "list_tables", ""); allowed {
		t.Fatal("call past total budget should be denied")
	}
	if halted, _ := g.Halted("s1"); !halted {
		t.Error("total budget violation should halt the session")
	}
}

func TestConsecutiveSameTool(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveSameTool = 4
	g := New(cfg)

	for i := 0; i < 3; i++ {
		if allowed, reason := g.CheckBeforeCall("s1", "run_query", ""); !allowed {
			t.Fatalf("call %d should be allowed: %s", i+1, reason)
		}
		g.RecordCall("s1", "run_query", true, "")
	}

	// A different tool resets the streak
	if allowed, _ := g.CheckBeforeCall("s1", "list_tables", ""); !allowed {
		t.Fatal("different tool should be allowed")
	}
	g.RecordCall("s1", "list_tables", true, "")

	for i := 0; i < 3; i++ {
		if allowed, reason := g.CheckBeforeCall("s1", "run_query", ""); !allowed {
			t.Fatalf("post-reset call %d should be allowed: %s", i+1, reason)
		}
		g.RecordCall("s1", "run_query", true, "")
	}

	if allowed, _ := g.CheckBeforeCall("s1", "run_query", ""); allowed {
		t.Fatal("fourth consecutive call of the same tool should halt")
	}
	if halted, _ := g.Halted("s1"); !halted {
		t.Error("consecutive-same-tool violation should halt the session")
	}
}

func TestConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 3
	cfg.MaxConsecutiveSameTool = 100
	g := New(cfg)

	for i := 0; i < 3; i++ {
		if allowed, reason := g.CheckBeforeCall("s1", "run_query", ""); !allowed {
			t.Fatalf("call %d should be allowed: %s", i+1, reason)
		}
		g.RecordCall("s1", "run_query", false, "")
	}

	if allowed, _ := g.CheckBeforeCall("s1", "run_query", ""); allowed {
		t.Fatal("call after failure streak should be denied")
	}

	// A success in between resets the streak
	g2 := New(cfg)
	g2.RecordCall("s2", "run_query", false, "")
	g2.RecordCall("s2", "run_query", false, "")
	g2.RecordCall("s2", "run_query", true, "")
	g2.RecordCall("s2", "run_query", false, "")
	if allowed, reason := g2.CheckBeforeCall("s2", "run_query", ""); !allowed {
		t.Fatalf("streak broken by success should be allowed: %s", reason)
	}
}

func TestDuplicateQuerySoftDenial(t *testing.T) {
	g := New(testConfig())

	query := "SELECT id, name FROM customers"
	if allowed, reason := g.CheckBeforeCall("s1", "run_query", query); !allowed {
		t.Fatalf("first query should be allowed: %s", reason)
	}
	g.RecordCall("s1", "run_query", true, query)

	// Same query with different case and whitespace normalizes identically
	dup := "select   id, name\n  from customers"
	allowed, reason := g.CheckBeforeCall("s1", "run_query", dup)
	if allowed {
		t.Fatal("duplicate query should be denied")
	}
	if !strings.Contains(reason, "Duplicate") {
		t.Errorf("reason should identify a duplicate, got %q", reason)
	}

	// Soft denial: the session continues to accept other work
	if halted, _ := g.Halted("s1"); halted {
		t.Error("duplicate query must not halt the session")
	}
	if allowed, _ := g.CheckBeforeCall("s1", "run_query", "SELECT count(*) FROM orders"); !allowed {
		t.Error("a different query should still be allowed")
	}
}

func TestFailedQueryNotFingerprinted(t *testing.T) {
	g := New(testConfig())

	query := "SELECT * FROM missing_table"
	g.RecordCall("s1", "run_query", false, query)

	// A failed query is not remembered, so retrying it is allowed
	if allowed, reason := g.CheckBeforeCall("s1", "run_query", query); !allowed {
		t.Fatalf("retry of a failed query should be allowed: %s", reason)
	}
}

func TestCyclicPatternTwoStrike(t *testing.T) {
	g := New(testConfig())

	// A,B,A,B,... with window 4: by the 8th call the A->B cycle has been
	// observed twice and the session halts.
	tools := []string{"table_schema", "run_query"}
	for i := 0; i < 8; i++ {
		tool := tools[i%2]
		allowed, reason := g.CheckBeforeCall("s1", tool, "")
		if i < 7 {
			if !allowed {
				t.Fatalf("call %d should be allowed, got: %s", i+1, reason)
			}
			g.RecordCall("s1", tool, true, "")
			continue
		}
		if allowed {
			t.Fatal("second cycle occurrence should halt on call 8")
		}
		if !strings.Contains(reason, "->") {
			t.Errorf("halt reason should carry the pattern signature, got %q", reason)
		}
	}

	if halted, _ := g.Halted("s1"); !halted {
		t.Error("cycle detection should halt the session")
	}
}

func TestSingleToolNeverTripsCycleDetector(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveSameTool = 30
	g := New(cfg)

	// 29 identical calls stay within the consecutive-same-tool budget and
	// must never be flagged as a cyclic pattern.
	for i := 0; i < 29; i++ {
		allowed, reason := g.CheckBeforeCall("s1", "run_query", fmt.Sprintf("SELECT %d", i))
		if !allowed {
			t.Fatalf("call %d should be allowed, got: %s", i+1, reason)
		}
		g.RecordCall("s1", "run_query", true, fmt.Sprintf("SELECT %d", i))
	}

	allowed, reason := g.CheckBeforeCall("s1", "run_query", "SELECT 30")
	if allowed {
		t.Fatal("30th consecutive call should halt")
	}
	if strings.Contains(reason, "->") {
		t.Errorf("halt must come from the consecutive-same-tool rule, not the cycle detector: %q", reason)
	}
}

func TestStatsSnapshot(t *testing.T) {
	g := New(testConfig())

	g.RecordCall("s1", "list_tables", true, "")
	g.RecordCall("s1", "run_query", true, "SELECT 1")
	g.RecordCall("s1", "run_query", false, "SELECT bad")

	stats := g.Stats("s1")
	if stats.TotalCalls != 3 {
		t.Errorf("expected 3 total calls, got %d", stats.TotalCalls)
	}
	if stats.SuccessfulCalls != 2 || stats.FailedCalls != 1 {
		t.Errorf("expected 2 ok / 1 failed, got %d / %d", stats.SuccessfulCalls, stats.FailedCalls)
	}
	if stats.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", stats.ConsecutiveFailures)
	}
	if stats.ToolCallCounts["run_query"] != 2 {
		t.Errorf("expected run_query count 2, got %d", stats.ToolCallCounts["run_query"])
	}
	if stats.Halted {
		t.Error("session should not be halted")
	}

	// Snapshot is a copy
	stats.ToolCallCounts["run_query"] = 99
	if g.Stats("s1").ToolCallCounts["run_query"] != 2 {
		t.Error("mutating a snapshot must not affect the session")
	}
}

func TestCleanupExpired(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTTL = 10 * time.Millisecond
	g := New(cfg)

	g.RecordCall("old", "run_query", true, "")
	time.Sleep(20 * time.Millisecond)
	g.RecordCall("fresh", "run_query", true, "")

	// fresh was created after the sleep; old is past the TTL
	if removed := g.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 expired session, got %d", removed)
	}
	if g.SessionCount() != 1 {
		t.Errorf("expected 1 live session, got %d", g.SessionCount())
	}
}

func TestFingerprintNormalization(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"case insensitive", "select * from t", "SELECT * FROM T", true},
		{"whitespace collapsed", "SELECT  *\n\tFROM t", "SELECT * FROM t", true},
		{"different queries", "SELECT a FROM t", "SELECT b FROM t", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fingerprint(tt.a) == fingerprint(tt.b); got != tt.same {
				t.Errorf("fingerprint equality = %v, want %v", got, tt.same)
			}
		})
	}
}

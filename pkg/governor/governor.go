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
// Package governor provides session-scoped admission control for tool calls.
// It detects runaway and looping tool usage (call budgets, consecutive-failure
// streaks, duplicate queries, cyclic call patterns) and halts a session before
// an agent can burn through its budget in a loop.
package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/weft/internal/log"
	"go.uber.org/zap"
)

// Config holds governor limits.
type Config struct {
	// MaxCallsPerTool is the per-tool invocation budget for one session
	MaxCallsPerTool int

	// MaxTotalCalls is the total invocation budget across all tools
	MaxTotalCalls int

	// MaxConsecutiveSameTool halts when one tool is called this many times in a row
	MaxConsecutiveSameTool int

	// MaxConsecutiveFailures halts after this many failed calls in a row
	MaxConsecutiveFailures int

	// PatternWindow is the number of recent calls examined for cyclic patterns
	PatternWindow int

	// SessionTTL is how long an untouched session survives before cleanup
	SessionTTL time.Duration
}

// DefaultConfig returns sensible default limits.
func DefaultConfig() Config {
	return Config{
		MaxCallsPerTool:        50,
		MaxTotalCalls:          100,
		MaxConsecutiveSameTool: 30,
		MaxConsecutiveFailures: 10,
		PatternWindow:          10,
		SessionTTL:             30 * time.Minute,
	}
}

// Stats is a point-in-time snapshot of a session's call accounting.
type Stats struct {
	SessionID           string         `json:"session_id"`
	TotalCalls          int            `json:"total_calls"`
	SuccessfulCalls     int            `json:"successful_calls"`
	FailedCalls         int            `json:"failed_calls"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	ToolCallCounts      map[string]int `json:"tool_call_counts"`
	Halted              bool           `json:"halted"`
	HaltReason          string         `json:"halt_reason,omitempty"`
}

// Governor tracks per-session tool-call state and answers admission checks.
// Sessions are created lazily, reset per user turn, and expire after the TTL.
type Governor struct {
	mu       sync.RWMutex
	sessions map[string]*session
	config   Config
}

// New creates a governor with the given limits.
func New(config Config) *Governor {
	return &Governor{
		sessions: make(map[string]*session),
		config:   config,
	}
}

// getSession returns the session for id, creating it on first use.
func (g *Governor) getSession(id string) *session {
	g.mu.RLock()
	s, ok := g.sessions[id]
	g.mu.RUnlock()
	if ok {
		return s
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Double-check after acquiring write lock
	if s, ok := g.sessions[id]; ok {
		return s
	}
	s = newSession(id)
	g.sessions[id] = s
	log.Info("created governor session", zap.String("session_id", id))
	return s
}

// CheckBeforeCall decides whether a tool call may proceed. The queryText is
// the raw query for query-carrying tools (empty otherwise) and feeds the
// duplicate-query check. A false return carries a human-readable reason that
// is safe to show to the user and to feed back to the model.
//
// Denials come in two strengths: budget, streak and cycle violations halt the
// session permanently (until ResetSession); a duplicate query is a soft
// rejection and leaves the session usable.
func (g *Governor) CheckBeforeCall(sessionID, toolName, queryText string) (bool, string) {
	s := g.getSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		return false, s.haltReason
	}

	if s.totalCalls >= g.config.MaxTotalCalls {
		return false, s.halt(fmt.Sprintf(
			"Total tool-call budget reached (%d calls). Try simplifying the question or asking it differently.",
			g.config.MaxTotalCalls))
	}

	if s.toolCallCounts[toolName] >= g.config.MaxCallsPerTool {
		return false, s.halt(fmt.Sprintf(
			"Tool %q reached its call budget (%d calls). Use the information already gathered instead of re-querying.",
			toolName, g.config.MaxCallsPerTool))
	}

	if s.lastToolName == toolName {
		s.consecutiveSameTool++
		if s.consecutiveSameTool >= g.config.MaxConsecutiveSameTool {
			return false, s.halt(fmt.Sprintf(
				"Tool %q was called %d times in a row; this looks like a loop. Check the query logic or use the data already fetched.",
				toolName, g.config.MaxConsecutiveSameTool))
		}
	} else {
		s.consecutiveSameTool = 1
	}

	if s.consecutiveFailures >= g.config.MaxConsecutiveFailures {
		return false, s.halt(fmt.Sprintf(
			"%d tool calls failed in a row. Check the query syntax and table structure.",
			g.config.MaxConsecutiveFailures))
	}

	if queryText != "" {
		fp := fingerprint(queryText)
		if s.recentQueries.contains(fp) {
			// Soft rejection: the session stays usable
			return false, "Duplicate query detected: this exact query was just executed. " +
				"Use the results already returned, or ask for something different."
		}
	}

	if sig, loop := s.detectCycle(toolName, g.config.PatternWindow); loop {
		return false, s.halt(fmt.Sprintf(
			"Repeating call pattern detected: %s. The agent appears stuck in a loop; "+
				"review earlier results or restate the goal.", sig))
	}

	return true, ""
}

// RecordCall records the outcome of a tool invocation. It is unconditional
// bookkeeping: it never denies and is called after every execution regardless
// of the admission decision's strength.
func (g *Governor) RecordCall(sessionID, toolName string, success bool, queryText string) {
	s := g.getSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.toolCallCounts[toolName]++
	s.totalCalls++
	s.lastCallTime = time.Now()
	s.lastToolName = toolName

	if success {
		s.successfulCalls++
		s.consecutiveFailures = 0
	} else {
		s.failedCalls++
		s.consecutiveFailures++
	}

	s.recentCalls.push(toolName)

	if queryText != "" && success {
		s.recentQueries.push(fingerprint(queryText))
	}

	log.Debug("recorded tool call",
		zap.String("session_id", sessionID),
		zap.String("tool", toolName),
		zap.Bool("success", success),
		zap.Int("total_calls", s.totalCalls))
}

// Halted reports whether the session has been halted, and why.
func (g *Governor) Halted(sessionID string) (bool, string) {
	s := g.getSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted, s.haltReason
}

// Stats returns a snapshot of the session's accounting.
func (g *Governor) Stats(sessionID string) Stats {
	s := g.getSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.toolCallCounts))
	for k, v := range s.toolCallCounts {
		counts[k] = v
	}
	return Stats{
		SessionID:           sessionID,
		TotalCalls:          s.totalCalls,
		SuccessfulCalls:     s.successfulCalls,
		FailedCalls:         s.failedCalls,
		ConsecutiveFailures: s.consecutiveFailures,
		ToolCallCounts:      counts,
		Halted:              s.halted,
		HaltReason:          s.haltReason,
	}
}

// ResetSession replaces a session with a fresh one. Called at the start of
// each user turn so earlier turns' budgets do not leak forward.
func (g *Governor) ResetSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.sessions[sessionID]; ok {
		old.mu.Lock()
		total := old.totalCalls
		old.mu.Unlock()
		log.Info("reset governor session",
			zap.String("session_id", sessionID),
			zap.Int("previous_total_calls", total))
	}
	g.sessions[sessionID] = newSession(sessionID)
}

// ClearSession removes a session entirely.
func (g *Governor) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[sessionID]; ok {
		delete(g.sessions, sessionID)
		log.Info("cleared governor session", zap.String("session_id", sessionID))
	}
}

// CleanupExpired drops sessions older than the configured TTL.
// Returns the number of sessions removed.
func (g *Governor) CleanupExpired() int {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, s := range g.sessions {
		s.mu.Lock()
		expired := now.Sub(s.createdAt) > g.config.SessionTTL
		s.mu.Unlock()
		if expired {
			delete(g.sessions, id)
			removed++
			log.Info("expired governor session", zap.String("session_id", id))
		}
	}
	return removed
}

// SessionCount returns the number of live sessions.
func (g *Governor) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

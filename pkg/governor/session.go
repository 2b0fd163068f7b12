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
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/weft/internal/log"
	"go.uber.org/zap"
)

const (
	recentQueryCapacity = 20
	recentCallCapacity  = 30
)

// session holds one conversation's tool-call state. The per-session mutex
// covers all fields: admission checks and bookkeeping interleave from
// different call sites.
type session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	toolCallCounts map[string]int

	// Bounded histories, oldest evicted first
	recentQueries ring
	recentCalls   ring

	totalCalls          int
	successfulCalls     int
	failedCalls         int
	consecutiveFailures int
	consecutiveSameTool int
	lastToolName        string
	lastCallTime        time.Time

	// Cycle signatures warned about once already
	detectedPatterns map[string]struct{}

	halted     bool
	haltReason string
}

func newSession(id string) *session {
	return &session{
		id:               id,
		createdAt:        time.Now(),
		toolCallCounts:   make(map[string]int),
		recentQueries:    ring{capacity: recentQueryCapacity},
		recentCalls:      ring{capacity: recentCallCapacity},
		detectedPatterns: make(map[string]struct{}),
	}
}

// halt marks the session terminated. Sticky until the session is replaced.
// Caller must hold s.mu.
func (s *session) halt(reason string) string {
	s.halted = true
	s.haltReason = reason
	log.Warn("governor halted session",
		zap.String("session_id", s.id),
		zap.String("reason", reason))
	return reason
}

// detectCycle looks for a repeating multi-tool call pattern in the recent
// window plus the candidate call. Pattern lengths 2 to 4 are considered: the
// most recent len names are compared with the len names immediately before
// them. Single-tool patterns are skipped since the consecutive-same-tool rule
// owns that case. The first sighting of a signature only warns; a second
// sighting of the same signature reports a loop.
//
// Caller must hold s.mu.
func (s *session) detectCycle(currentTool string, window int) (string, bool) {
	if s.recentCalls.len() < window {
		return "", false
	}

	recent := append(s.recentCalls.tail(window), currentTool)

	for patternLen := 2; patternLen <= 4; patternLen++ {
		if len(recent) < patternLen*2 {
			continue
		}
		last := recent[len(recent)-patternLen:]
		prev := recent[len(recent)-patternLen*2 : len(recent)-patternLen]
		if !equalNames(last, prev) {
			continue
		}

		if singleTool(last) {
			continue
		}

		sig := strings.Join(last, "->")
		if _, seen := s.detectedPatterns[sig]; !seen {
			s.detectedPatterns[sig] = struct{}{}
			log.Warn("detected call cycle, warning only",
				zap.String("session_id", s.id),
				zap.String("pattern", sig))
			continue
		}
		return sig, true
	}
	return "", false
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func singleTool(names []string) bool {
	for _, n := range names[1:] {
		if n != names[0] {
			return false
		}
	}
	return true
}

// fingerprint normalizes a query (whitespace collapsed, uppercased) and
// hashes it so the history stores digests rather than full query text.
func fingerprint(query string) string {
	normalized := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ring is a fixed-capacity FIFO of strings.
type ring struct {
	capacity int
	items    []string
}

func (r *ring) push(v string) {
	r.items = append(r.items, v)
	if len(r.items) > r.capacity {
		r.items = r.items[len(r.items)-r.capacity:]
	}
}

func (r *ring) contains(v string) bool {
	for _, item := range r.items {
		if item == v {
			return true
		}
	}
	return false
}

func (r *ring) len() int {
	return len(r.items)
}

// tail returns up to the last n items, oldest first.
func (r *ring) tail(n int) []string {
	if n > len(r.items) {
		n = len(r.items)
	}
	out := make([]string, n, n+1)
	copy(out, r.items[len(r.items)-n:])
	return out
}

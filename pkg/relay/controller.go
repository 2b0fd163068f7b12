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
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/governor"
	"go.uber.org/zap"
)

// Outcome is the single terminal state of one run.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
	OutcomeCancelled
	OutcomeDisconnected
	OutcomeFailed
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeDisconnected:
		return "disconnected"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunConfig holds the controller's timing knobs.
type RunConfig struct {
	// KeepaliveInterval bounds each wait for the next engine event; on
	// expiry a no-op keepalive frame keeps proxies from dropping the
	// connection
	KeepaliveInterval time.Duration

	// IdleTimeout ends the run when no content event arrives for this long
	IdleTimeout time.Duration

	// TotalTimeout is the fixed overall budget for one run
	TotalTimeout time.Duration

	// FlushEvery flushes the transport after this many content fragments
	FlushEvery int
}

// DefaultRunConfig returns the standard timing knobs.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		KeepaliveInterval: 25 * time.Second,
		IdleTimeout:       5 * time.Minute,
		TotalTimeout:      15 * time.Minute,
		FlushEvery:        10,
	}
}

// AnswerRecord is the single persisted artifact of one run.
type AnswerRecord struct {
	RunID      string
	SessionID  string
	Question   string
	Answer     string
	Outcome    string
	ToolCalls  int
	ElapsedMs  int64
	TokenCount int
}

// Persister stores one answer record per run. SaveAnswer must be idempotent
// on RunID so retried finalization cannot duplicate rows.
type Persister interface {
	SaveAnswer(ctx context.Context, rec AnswerRecord) error
}

// Controller drives one query run from start to exactly one terminal
// outcome. It owns the event loop, the three timers, safe client writes and
// the finalizer; governor state is consulted but owned elsewhere.
type Controller struct {
	gov       *governor.Governor
	persister Persister
	config    RunConfig
}

// NewController creates a controller. persister may be nil, in which case
// answers are not stored.
func NewController(gov *governor.Governor, persister Persister, config RunConfig) *Controller {
	return &Controller{gov: gov, persister: persister, config: config}
}

// runState is the per-run mutable state, exclusively owned by one Run call.
type runState struct {
	sink         Sink
	tracker      *PhaseTracker
	buffer       strings.Builder
	tokenCount   int
	toolCalls    int
	messageCount int
	disconnected bool
	lastContent  time.Time
}

// safeWrite delivers one frame. Returns false once the client is known to be
// gone; from then on every write is a silent no-op.
func (rs *runState) safeWrite(f Frame) bool {
	if rs.disconnected {
		return false
	}
	payload, err := f.Encode()
	if err != nil {
		log.Error("failed to encode frame", zap.Error(err))
		return true
	}
	if err := rs.sink.Write(payload); err != nil {
		if IsDisconnect(err) {
			log.Info("client disconnected", zap.Error(err))
		} else {
			log.Error("client write failed", zap.Error(err))
		}
		rs.disconnected = true
		return false
	}
	rs.messageCount++
	return true
}

// writeContent delivers a continue-frame and buffers the text for
// persistence. The fragment is buffered even when delivery fails so a
// disconnected run still persists everything produced.
func (rs *runState) writeContent(text string) bool {
	rs.buffer.WriteString(text)
	return rs.safeWrite(AnswerFrame(text))
}

// writeNarrative delivers an info or error frame and buffers the text.
func (rs *runState) writeNarrative(f Frame) bool {
	rs.buffer.WriteString(f.Content)
	return rs.safeWrite(f)
}

func (rs *runState) flush() {
	if rs.disconnected {
		return
	}
	if err := rs.sink.Flush(); err != nil {
		if IsDisconnect(err) {
			rs.disconnected = true
			return
		}
		log.Warn("flush failed", zap.Error(err))
	}
}

// Run executes one query run: consume events until a terminal condition,
// then finalize. Exactly one Outcome is returned per call. Cancellation
// arrives through ctx.
func (c *Controller) Run(ctx context.Context, runID, sessionID, question string, stream engine.Stream, sink Sink) Outcome {
	start := time.Now()
	rs := &runState{
		sink:        sink,
		tracker:     NewPhaseTracker(),
		lastContent: start,
	}

	log.Info("run started",
		zap.String("run_id", runID),
		zap.String("session_id", sessionID),
		zap.String("question", truncate(question, 100)))

	outcome := c.eventLoop(ctx, sessionID, stream, rs)
	c.finalize(runID, sessionID, question, outcome, start, rs)
	return outcome
}

func (c *Controller) eventLoop(ctx context.Context, sessionID string, stream engine.Stream, rs *runState) Outcome {
	events := stream.Events()

	keepalive := time.NewTimer(c.config.KeepaliveInterval)
	defer keepalive.Stop()
	idle := time.NewTimer(c.config.IdleTimeout)
	defer idle.Stop()
	total := time.NewTimer(c.config.TotalTimeout)
	defer total.Stop()

	for {
		// The governor may have halted the session from the tool-execution
		// side since the last event
		if halted, reason := c.gov.Halted(sessionID); halted {
			log.Warn("governor halted run", zap.String("session_id", sessionID), zap.String("reason", reason))
			c.closeSections(rs)
			rs.writeNarrative(WarningFrame("\n> ⚠️ **Run halted**\n\n" + reason))
			return OutcomeCompleted
		}

		resetTimer(keepalive, c.config.KeepaliveInterval)

		select {
		case <-ctx.Done():
			if ClassifyError(context.Cause(ctx)) == ErrorCategoryTimeout {
				rs.safeWrite(ErrorFrame(fmt.Sprintf(
					"\n> ⚠️ **Timed out**: the run exceeded its overall budget (%d minutes). Try a simpler question.",
					int(c.config.TotalTimeout.Minutes()))))
				return OutcomeTimedOut
			}
			c.closeSections(rs)
			rs.safeWrite(InfoFrame("\n> Run cancelled."))
			return OutcomeCancelled

		case <-total.C:
			rs.safeWrite(ErrorFrame(fmt.Sprintf(
				"\n> ⚠️ **Timed out**: the run exceeded its overall budget (%d minutes). Try a simpler question.",
				int(c.config.TotalTimeout.Minutes()))))
			return OutcomeTimedOut

		case <-idle.C:
			stats := c.gov.Stats(sessionID)
			rs.safeWrite(ErrorFrame(fmt.Sprintf(
				"\n> ⚠️ **Timed out**: no progress for %s (%d tool calls so far).",
				c.config.IdleTimeout, stats.TotalCalls)))
			return OutcomeTimedOut

		case <-keepalive.C:
			// No event within the keepalive window; the idle clock keeps
			// running, keepalives are not progress
			if rs.disconnected {
				return OutcomeDisconnected
			}
			if err := rs.sink.Write([]byte(keepaliveFrame)); err != nil {
				if !IsDisconnect(err) {
					log.Warn("keepalive write failed", zap.Error(err))
				}
				rs.disconnected = true
				return OutcomeDisconnected
			}
			rs.flush()

		case ev, ok := <-events:
			if !ok {
				return c.finishStream(stream, rs)
			}
			switch ev.Mode {
			case engine.ModeContent:
				c.handleContent(ev, rs)
				resetTimer(idle, c.config.IdleTimeout)
			case engine.ModeStructural:
				c.handleStructural(ctx, ev, rs)
			}
			if rs.disconnected {
				return OutcomeDisconnected
			}
			// Yield so concurrent runs interleave fairly
			runtime.Gosched()
		}
	}
}

// handleContent streams one text fragment, phase-classified and wrapped in
// section markers as needed.
func (c *Controller) handleContent(ev engine.Event, rs *runState) {
	// Tool-node chatter is rendered from structural events instead
	if ev.Node == "tools" || ev.Text == "" {
		return
	}

	phase := rs.tracker.DetectPhase(ev.Node, ev.Text)
	for _, marker := range rs.tracker.Transition(phase, ev.Node) {
		if !rs.writeContent(marker) {
			return
		}
	}

	rs.tokenCount++
	rs.lastContent = time.Now()
	if !rs.writeContent(ev.Text) {
		return
	}

	if rs.tokenCount%c.config.FlushEvery == 0 || strings.Contains(ev.Text, ReportBoundaryMarker) {
		rs.flush()
	}
}

// handleStructural renders tool invocations and results. Cancellation is
// re-checked between records so one large batch cannot delay it.
func (c *Controller) handleStructural(ctx context.Context, ev engine.Event, rs *runState) {
	for _, records := range ev.Records {
		for _, rec := range records {
			if ctx.Err() != nil || rs.disconnected {
				return
			}
			switch rec.Kind {
			case engine.KindInvocation:
				rs.tracker.MarkToolCalled()
				rs.toolCalls++
				if msg := FormatToolCall(rec.Name, rec.Input); msg != "" {
					for _, marker := range rs.tracker.Transition(PhaseExecution, ev.Node) {
						if !rs.writeContent(marker) {
							return
						}
					}
					if !rs.writeContent("\n\n") {
						return
					}
					if !rs.writeNarrative(InfoFrame(msg)) {
						return
					}
				}
			case engine.KindResult:
				if msg := FormatToolResult(rec.Name, rec.Output); msg != "" {
					frame := InfoFrame(msg)
					if strings.Contains(strings.ToLower(rec.Output), "error") {
						frame = ErrorFrame(msg)
					}
					if !rs.writeNarrative(frame) {
						return
					}
				}
			}
		}
	}
	rs.flush()
}

// finishStream maps stream exhaustion to a terminal outcome based on the
// stream's terminal error, if any.
func (c *Controller) finishStream(stream engine.Stream, rs *runState) Outcome {
	err := stream.Err()
	if err == nil {
		return OutcomeCompleted
	}

	switch ClassifyError(err) {
	case ErrorCategoryDisconnect:
		rs.disconnected = true
		return OutcomeDisconnected
	case ErrorCategoryCancelled:
		c.closeSections(rs)
		rs.safeWrite(InfoFrame("\n> Run cancelled."))
		return OutcomeCancelled
	case ErrorCategoryTimeout:
		c.closeSections(rs)
		rs.safeWrite(ErrorFrame("\n> ⚠️ **Timed out**: the model took too long to respond. Please retry."))
		return OutcomeTimedOut
	case ErrorCategoryRateLimit:
		c.closeSections(rs)
		rs.safeWrite(ErrorFrame("\n> ⚠️ **Rate limited**: the model is receiving too many requests. Please retry shortly."))
		return OutcomeFailed
	case ErrorCategoryAuth:
		c.closeSections(rs)
		rs.safeWrite(ErrorFrame("\n> ❌ **Error**: the model rejected the request credentials."))
		return OutcomeFailed
	default:
		log.Error("run failed", zap.Error(err))
		c.closeSections(rs)
		rs.safeWrite(ErrorFrame(fmt.Sprintf("\n> ❌ **Error**: agent run failed\n\n```\n%s\n```\n", truncate(err.Error(), 200))))
		return OutcomeFailed
	}
}

// closeSections emits any pending section close markers.
func (c *Controller) closeSections(rs *runState) {
	for _, marker := range rs.tracker.CloseSections() {
		rs.writeContent(marker)
	}
}

// finalize runs exactly once per run on every exit path: balance sections,
// persist the accumulated answer, terminate the stream and log governor
// statistics.
func (c *Controller) finalize(runID, sessionID, question string, outcome Outcome, start time.Time, rs *runState) {
	c.closeSections(rs)

	if c.persister != nil && rs.buffer.Len() > 0 {
		rec := AnswerRecord{
			RunID:      runID,
			SessionID:  sessionID,
			Question:   question,
			Answer:     rs.buffer.String(),
			Outcome:    outcome.String(),
			ToolCalls:  rs.toolCalls,
			ElapsedMs:  time.Since(start).Milliseconds(),
			TokenCount: rs.tokenCount,
		}
		persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.persister.SaveAnswer(persistCtx, rec); err != nil {
			log.Error("failed to persist answer",
				zap.String("run_id", runID),
				zap.Error(err))
		}
	}

	if !rs.disconnected {
		rs.safeWrite(EndFrame())
		rs.flush()
	}

	stats := c.gov.Stats(sessionID)
	log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("session_id", sessionID),
		zap.String("outcome", outcome.String()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tokens", rs.tokenCount),
		zap.Int("tool_calls", stats.TotalCalls),
		zap.Int("tool_failures", stats.FailedCalls))
}

// resetTimer safely re-arms a timer whether or not it already fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

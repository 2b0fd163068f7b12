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
// Package server exposes the agent over HTTP: streaming query runs, run
// cancellation, session stats and history, plus background session cleanup.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/relay"
)

// ErrCancelled is the cancellation cause attached when a client cancels a
// run through the API.
var ErrCancelled = errors.New("run cancelled by client request")

// ErrSessionBusy means a session already has a run in flight. A session is
// one conversation; interleaving two runs would corrupt its governor state.
var ErrSessionBusy = errors.New("session already has an active run")

// Coordinator ties the engine, governor and streaming controller together
// and owns the registry of in-flight runs.
type Coordinator struct {
	engine     *engine.Engine
	gov        *governor.Governor
	controller *relay.Controller
	logger     *zap.Logger

	mu      sync.Mutex
	active  map[string]*activeRun // by run ID
	bySess  map[string]string     // session ID -> run ID
}

type activeRun struct {
	runID     string
	sessionID string
	cancel    context.CancelCauseFunc
	started   time.Time
}

// NewCoordinator builds a coordinator. The persister may be nil when answer
// history is disabled.
func NewCoordinator(eng *engine.Engine, gov *governor.Governor, persister relay.Persister, runConfig relay.RunConfig) *Coordinator {
	return &Coordinator{
		engine:     eng,
		gov:        gov,
		controller: relay.NewController(gov, persister, runConfig),
		logger:     log.Logger().Named("coordinator"),
		active:     make(map[string]*activeRun),
		bySess:     make(map[string]string),
	}
}

// StartRun executes one question for a session and streams the run to the
// sink. It blocks until the run reaches its terminal outcome. An empty
// sessionID starts a fresh session.
func (c *Coordinator) StartRun(ctx context.Context, sessionID, question string, sink relay.Sink) (string, relay.Outcome, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	runID := uuid.NewString()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.mu.Lock()
	if other, busy := c.bySess[sessionID]; busy {
		c.mu.Unlock()
		return "", relay.OutcomeFailed, fmt.Errorf("%w: session %s is running %s", ErrSessionBusy, sessionID, other)
	}
	run := &activeRun{runID: runID, sessionID: sessionID, cancel: cancel, started: time.Now()}
	c.active[runID] = run
	c.bySess[sessionID] = runID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, runID)
		delete(c.bySess, sessionID)
		c.mu.Unlock()
	}()

	// Each user turn gets a fresh budget; halts never carry over.
	c.gov.ResetSession(sessionID)

	c.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("session_id", sessionID))

	stream := c.engine.Run(runCtx, sessionID, question)
	outcome := c.controller.Run(runCtx, runID, sessionID, question, stream, sink)

	c.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("outcome", outcome.String()),
		zap.Duration("elapsed", time.Since(run.started)))
	return runID, outcome, nil
}

// CancelRun cancels an in-flight run. Returns false when the run is not
// active (unknown or already finished).
func (c *Coordinator) CancelRun(runID string) bool {
	c.mu.Lock()
	run, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel(ErrCancelled)
	c.logger.Info("run cancelled", zap.String("run_id", run.runID))
	return true
}

// ActiveRunForSession returns the run ID currently executing for a session,
// if any.
func (c *Coordinator) ActiveRunForSession(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	runID, ok := c.bySess[sessionID]
	return runID, ok
}

// ActiveRuns returns the number of runs in flight.
func (c *Coordinator) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

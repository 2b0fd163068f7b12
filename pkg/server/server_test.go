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
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/history"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/relay"
	"github.com/teradata-labs/weft/pkg/tool"
)

// fixedProvider answers every chat with one canned text response.
type fixedProvider struct {
	text string
}

func (p *fixedProvider) Name() string  { return "fixed" }
func (p *fixedProvider) Model() string { return "fixed-model" }

func (p *fixedProvider) Chat(_ context.Context, _ []llm.Message, _ []tool.Tool) (*llm.Response, error) {
	return &llm.Response{Content: p.text, StopReason: "end_turn"}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()

	store, err := history.NewStore(filepath.Join(t.TempDir(), "answers.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	gov := governor.New(governor.DefaultConfig())
	eng := engine.New(&fixedProvider{text: "The answer is 42."}, tool.NewRegistry(), gov, engine.Config{})

	runConfig := relay.RunConfig{
		KeepaliveInterval: 50 * time.Millisecond,
		IdleTimeout:       2 * time.Second,
		TotalTimeout:      5 * time.Second,
		FlushEvery:        2,
	}
	coordinator := NewCoordinator(eng, gov, store, runConfig)
	return NewServer(coordinator, gov, store, DefaultConfig())
}

func postQuery(t *testing.T, ts *httptest.Server, sessionID, question string) *http.Response {
	t.Helper()
	body := fmt.Sprintf(`{"session_id": %q, "question": %q}`, sessionID, question)
	resp, err := http.Post(ts.URL+"/v1/query:stream", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST query: %v", err)
	}
	return resp
}

func TestQueryStreamEndToEnd(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postQuery(t, ts, "sess-http", "how many users?")
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var raw strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		raw.Write(buf[:n])
		if err != nil {
			break
		}
	}

	body := raw.String()
	if !strings.Contains(body, "The answer is 42.") {
		t.Errorf("stream missing answer text:\n%s", body)
	}
	if !strings.Contains(body, relay.DataTypeEnd) {
		t.Errorf("stream missing end frame:\n%s", body)
	}

	// The finished run must be in the session's history.
	histResp, err := http.Get(ts.URL + "/v1/sessions/sess-http/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer func() { _ = histResp.Body.Close() }()

	var hist struct {
		SessionID string `json:"session_id"`
		Answers   []struct {
			Answer  string `json:"answer"`
			Outcome string `json:"outcome"`
		} `json:"answers"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Answers) != 1 {
		t.Fatalf("history has %d answers, want 1", len(hist.Answers))
	}
	if hist.Answers[0].Outcome != "completed" {
		t.Errorf("outcome = %q, want completed", hist.Answers[0].Outcome)
	}
	if !strings.Contains(hist.Answers[0].Answer, "The answer is 42.") {
		t.Errorf("persisted answer = %q", hist.Answers[0].Answer)
	}
}

func TestQueryStreamRejectsEmptyQuestion(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postQuery(t, ts, "", "   ")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/runs/no-such-run/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionStats(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/sess-stats/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"session_id"`
		Running   bool   `json:"running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if body.SessionID != "sess-stats" {
		t.Errorf("session_id = %q", body.SessionID)
	}
	if body.Running {
		t.Error("idle session reported as running")
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestCoordinatorRejectsConcurrentSessionRuns(t *testing.T) {
	srv := testServer(t)

	started := make(chan struct{})
	release := make(chan struct{})
	srv.coordinator.engine = engine.New(&blockingProvider{started: started, release: release},
		tool.NewRegistry(), srv.gov, engine.Config{})

	sink := relay.NewBufferSink()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = srv.coordinator.StartRun(context.Background(), "sess-busy", "first", sink)
	}()

	<-started
	_, _, err := srv.coordinator.StartRun(context.Background(), "sess-busy", "second", relay.NewBufferSink())
	if err == nil {
		t.Error("expected busy error for concurrent run on one session")
	}

	close(release)
	<-done
}

// blockingProvider parks the first chat until released so tests can observe
// an in-flight run.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Name() string  { return "blocking" }
func (p *blockingProvider) Model() string { return "blocking-model" }

func (p *blockingProvider) Chat(ctx context.Context, _ []llm.Message, _ []tool.Tool) (*llm.Response, error) {
	close(p.started)
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return &llm.Response{Content: "done", StopReason: "end_turn"}, nil
}

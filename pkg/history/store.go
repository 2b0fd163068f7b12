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
// Package history provides durable SQLite storage for completed answers so a
// session's past questions and responses survive restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teradata-labs/weft/pkg/relay"
)

// Store persists one row per finished run.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (creating if necessary) the answer database at dbPath.
// Use ":memory:" for an ephemeral store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open answer database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS answers (
		run_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question TEXT,
		answer TEXT,
		outcome TEXT NOT NULL,
		tool_calls INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		token_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveAnswer stores one answer record. Saving the same run ID twice is a
// no-op, which makes retried finalization safe.
func (s *Store) SaveAnswer(ctx context.Context, rec relay.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO answers
			(run_id, session_id, question, answer, outcome, tool_calls, elapsed_ms, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.SessionID, rec.Question, rec.Answer, rec.Outcome,
		rec.ToolCalls, rec.ElapsedMs, rec.TokenCount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save answer %s: %w", rec.RunID, err)
	}
	return nil
}

// Answer is one stored run with its persistence timestamp.
type Answer struct {
	relay.AnswerRecord
	CreatedAt time.Time
}

// ListBySession returns a session's answers, most recent first, capped at
// limit (0 means no cap).
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT run_id, session_id, question, answer, outcome, tool_calls, elapsed_ms, token_count, created_at
		FROM answers
		WHERE session_id = ?
		ORDER BY created_at DESC, run_id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var answers []Answer
	for rows.Next() {
		var a Answer
		var createdAt int64
		if err := rows.Scan(&a.RunID, &a.SessionID, &a.Question, &a.Answer, &a.Outcome,
			&a.ToolCalls, &a.ElapsedMs, &a.TokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Get returns one answer by run ID.
func (s *Store) Get(ctx context.Context, runID string) (*Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a Answer
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, session_id, question, answer, outcome, tool_calls, elapsed_ms, token_count, created_at
		FROM answers WHERE run_id = ?`, runID).
		Scan(&a.RunID, &a.SessionID, &a.Question, &a.Answer, &a.Outcome,
			&a.ToolCalls, &a.ElapsedMs, &a.TokenCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("answer %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load answer %s: %w", runID, err)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// DeleteSession removes all answers for a session. Returns the number of
// rows deleted.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM answers WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session answers: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ relay.Persister = (*Store)(nil)

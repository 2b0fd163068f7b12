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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/history"
	"github.com/teradata-labs/weft/pkg/llm/anthropic"
	"github.com/teradata-labs/weft/pkg/relay"
	"github.com/teradata-labs/weft/pkg/server"
	"github.com/teradata-labs/weft/pkg/sqltools"
	"github.com/teradata-labs/weft/pkg/tool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the weft HTTP server",
	Long: heredoc.Doc(`
		Start the HTTP server that answers questions about your database.

		The server exposes:
		  POST /v1/query:stream           run a question, stream the answer (SSE)
		  POST /v1/runs/{id}/cancel       cancel an in-flight run
		  GET  /v1/sessions/{id}/stats    tool-call budgets for a session
		  GET  /v1/sessions/{id}/history  past answers for a session
		  GET  /health                    liveness and run counts

		The datasource is configured with --db-dialect and --db-dsn, for
		example:

		  weft serve --db-dialect sqlite --db-dsn ./sales.db
		  weft serve --db-dialect postgres --db-dsn "host=db user=app dbname=sales"
	`),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if config.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("no Anthropic API key: set --anthropic-key, ANTHROPIC_API_KEY, or store one with 'weft config set-key'")
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("no datasource: set --db-dsn")
	}

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(config.Database.HistoryPath), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sqltools.Open(config.Database.Dialect, config.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := history.NewStore(config.Database.HistoryPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	registry := tool.NewRegistry()
	sqltools.RegisterAll(registry, db)

	gov := governor.New(governor.Config{
		MaxCallsPerTool:        config.Governor.MaxCallsPerTool,
		MaxTotalCalls:          config.Governor.MaxTotalCalls,
		MaxConsecutiveSameTool: config.Governor.MaxConsecutiveSameTool,
		MaxConsecutiveFailures: config.Governor.MaxConsecutiveFailures,
		PatternWindow:          config.Governor.PatternWindow,
		SessionTTL:             time.Duration(config.Governor.SessionTTLMinutes) * time.Minute,
	})

	provider := anthropic.NewClient(anthropic.Config{
		APIKey:      config.LLM.AnthropicAPIKey,
		Model:       config.LLM.AnthropicModel,
		Endpoint:    config.LLM.Endpoint,
		MaxTokens:   config.LLM.MaxTokens,
		Temperature: config.LLM.Temperature,
	})

	eng := engine.New(provider, registry, gov, engine.Config{})

	runConfig := relay.RunConfig{
		KeepaliveInterval: time.Duration(config.Run.KeepaliveSeconds) * time.Second,
		IdleTimeout:       time.Duration(config.Run.IdleTimeoutSeconds) * time.Second,
		TotalTimeout:      time.Duration(config.Run.TotalTimeoutSeconds) * time.Second,
		FlushEvery:        config.Run.FlushEvery,
	}
	coordinator := server.NewCoordinator(eng, gov, store, runConfig)

	srv := server.NewServer(coordinator, gov, store, server.Config{
		Addr: config.Server.Addr,
		CORS: server.CORSConfig{
			Enabled:        config.Server.CORSEnabled,
			AllowedOrigins: config.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         86400,
		},
		JanitorSchedule: config.Server.JanitorSchedule,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

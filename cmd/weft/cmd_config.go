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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage weft configuration",
	Long:  `Manage configuration files and secrets for weft.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example weft.yaml configuration file in the data directory.`,
	RunE:  runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Save the Anthropic API key to the system keyring",
	Long: heredoc.Doc(`
		Save the Anthropic API key to the system keyring securely.

		The key is stored in your system's credential storage (Keychain on
		macOS, Credential Manager on Windows, Secret Service on Linux) and
		loaded automatically when the server starts.
	`),
	RunE: runConfigSetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key",
	Short: "Delete the Anthropic API key from the system keyring",
	RunE:  runConfigDeleteKey,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	dir := GetWeftDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	path := filepath.Join(dir, DefaultConfigFileName+".yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	example := heredoc.Doc(`
		# weft configuration

		server:
		  addr: ":8080"
		  janitor_schedule: "@every 5m"

		llm:
		  anthropic_model: "claude-sonnet-4-5-20250929"
		  max_tokens: 4096
		  temperature: 1.0

		database:
		  dialect: "sqlite"       # sqlite, mysql or postgres
		  dsn: ""                 # datasource the agent queries

		governor:
		  max_calls_per_tool: 50
		  max_total_calls: 100
		  max_consecutive_same_tool: 30
		  max_consecutive_failures: 10
		  pattern_window: 10
		  session_ttl_minutes: 30

		run:
		  keepalive_seconds: 25
		  idle_timeout_seconds: 300
		  total_timeout_seconds: 900
		  flush_every: 10

		logging:
		  level: "info"           # debug, info, warn, error
		  format: "text"          # text or json
	`)
	if err := os.WriteFile(path, []byte(example), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigSetKey(_ *cobra.Command, _ []string) error {
	fmt.Print("Enter Anthropic API key: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	value := strings.TrimSpace(string(raw))
	if value == "" {
		return fmt.Errorf("empty key")
	}
	if err := keyring.Set(ServiceName, AnthropicKeyringKey, value); err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}
	fmt.Println("API key saved to system keyring.")
	return nil
}

func runConfigDeleteKey(_ *cobra.Command, _ []string) error {
	if err := keyring.Delete(ServiceName, AnthropicKeyringKey); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	fmt.Println("API key removed from system keyring.")
	return nil
}

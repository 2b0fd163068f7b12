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
	"net/url"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/pkg/relay"
)

var (
	queryServer  string
	querySession string
)

var queryCmd = &cobra.Command{
	Use:   "query \"<question>\"",
	Short: "Ask a running weft server a question",
	Long: heredoc.Doc(`
		Connect to a weft server and stream the answer to a question.

		The answer is printed as it is produced. Pass --session to continue
		an earlier conversation.

		Examples:
		  weft query "how many orders shipped last week?"
		  weft query --session 4f1f… "break that down by region"
	`),
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryServer, "server", "http://localhost:8080", "weft server base URL")
	queryCmd.Flags().StringVar(&querySession, "session", "", "session ID to continue (default: new session)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	params.Set("question", args[0])
	if querySession != "" {
		params.Set("session_id", querySession)
	}

	client := sse.NewClient(queryServer + "/v1/query:stream?" + params.Encode())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var streamErr error
	client.OnDisconnect(func(_ *sse.Client) {
		cancel()
	})

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		frame, err := relay.DecodeFrame(msg.Data)
		if err != nil {
			streamErr = fmt.Errorf("malformed frame: %w", err)
			cancel()
			return
		}
		switch frame.DataType {
		case relay.DataTypeEnd:
			cancel()
		case relay.DataTypeKeepalive:
			// ignore
		default:
			switch frame.MessageType {
			case relay.MessageError:
				fmt.Fprintln(os.Stderr, frame.Content)
			default:
				fmt.Print(frame.Content)
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to stream from %s: %w", queryServer, err)
	}
	fmt.Println()
	return streamErr
}

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
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
)

// Sink delivers raw frame bytes to a client.
type Sink interface {
	// Write delivers one encoded frame
	Write(p []byte) error

	// Flush pushes buffered bytes to the client
	Flush() error
}

// SSESink writes server-sent events over an HTTP response.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ Sink = (*SSESink)(nil)

// NewSSESink prepares an HTTP response for event streaming and returns a
// sink over it. Fails when the response writer cannot flush.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{w: w, flusher: flusher}, nil
}

// Write delivers one encoded frame.
func (s *SSESink) Write(p []byte) error {
	_, err := s.w.Write(p)
	return err
}

// Flush pushes buffered bytes to the client.
func (s *SSESink) Flush() error {
	s.flusher.Flush()
	return nil
}

// IsDisconnect reports whether err indicates the client went away, matched
// either by error kind or by a keyword in the message.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrHandlerTimeout) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range []string{
		"connection closed",
		"connection reset",
		"broken pipe",
		"client disconnected",
		"connection aborted",
		"transport closed",
	} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// BufferSink accumulates frames in memory. Used by tests and by the CLI's
// non-streaming output path.
type BufferSink struct {
	mu     sync.Mutex
	frames [][]byte

	// FailAfter injects a disconnect error once this many writes succeeded.
	// Negative means never fail.
	FailAfter int
}

var _ Sink = (*BufferSink)(nil)

// NewBufferSink creates an in-memory sink that never fails.
func NewBufferSink() *BufferSink {
	return &BufferSink{FailAfter: -1}
}

// Write appends the frame, or fails with a disconnect-shaped error once the
// configured write budget is spent.
func (b *BufferSink) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailAfter >= 0 && len(b.frames) >= b.FailAfter {
		return errors.New("write failed: client disconnected")
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	b.frames = append(b.frames, buf)
	return nil
}

// Flush is a no-op.
func (b *BufferSink) Flush() error { return nil }

// Frames returns a copy of everything written so far.
func (b *BufferSink) Frames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.frames))
	copy(out, b.frames)
	return out
}

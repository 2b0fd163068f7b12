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
// Package relay streams one query run to a client: it multiplexes engine
// events into a phase-aware frame protocol, enforces keepalive/idle/total
// timers, survives client disconnects, and persists the accumulated answer
// exactly once per run.
package relay

import (
	"encoding/json"
	"fmt"
)

// Frame message types understood by stream consumers.
const (
	MessageContinue = "continue"
	MessageInfo     = "info"
	MessageWarning  = "warning"
	MessageError    = "error"
	MessageEnd      = "end"
)

// Frame data-type tags. DataTypeEnd marks stream termination; keepalive
// frames carry empty content and must be ignored by consumers.
const (
	DataTypeAnswer    = "t02"
	DataTypeEnd       = "t99"
	DataTypeKeepalive = "keepalive"
)

// keepaliveFrame is the fixed no-op frame emitted when no event arrives
// within the keepalive interval.
const keepaliveFrame = "data: {\"data\":{\"messageType\": \"info\", \"content\": \"\"}, \"dataType\": \"keepalive\"}\n\n"

// Frame is one unit of the output protocol.
type Frame struct {
	MessageType string
	Content     string
	DataType    string
}

// frameBody matches the wire shape {"data":{...},"dataType":...}.
type frameBody struct {
	Data struct {
		MessageType string `json:"messageType"`
		Content     string `json:"content"`
	} `json:"data"`
	DataType string `json:"dataType"`
}

// AnswerFrame builds a continue-type answer frame.
func AnswerFrame(content string) Frame {
	return Frame{MessageType: MessageContinue, Content: content, DataType: DataTypeAnswer}
}

// InfoFrame builds an info-type answer frame.
func InfoFrame(content string) Frame {
	return Frame{MessageType: MessageInfo, Content: content, DataType: DataTypeAnswer}
}

// WarningFrame builds a warning-type answer frame.
func WarningFrame(content string) Frame {
	return Frame{MessageType: MessageWarning, Content: content, DataType: DataTypeAnswer}
}

// ErrorFrame builds an error-type answer frame.
func ErrorFrame(content string) Frame {
	return Frame{MessageType: MessageError, Content: content, DataType: DataTypeAnswer}
}

// EndFrame builds the stream-termination frame.
func EndFrame() Frame {
	return Frame{MessageType: MessageEnd, Content: "", DataType: DataTypeEnd}
}

// Encode renders the frame as a server-sent event.
func (f Frame) Encode() ([]byte, error) {
	var body frameBody
	body.Data.MessageType = f.MessageType
	body.Data.Content = f.Content
	body.DataType = f.DataType

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return []byte(fmt.Sprintf("data: %s\n\n", payload)), nil
}

// DecodeFrame parses an SSE-encoded frame payload (the JSON after "data: ").
// Used by the streaming client and by tests.
func DecodeFrame(payload []byte) (Frame, error) {
	var body frameBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return Frame{
		MessageType: body.Data.MessageType,
		Content:     body.Data.Content,
		DataType:    body.DataType,
	}, nil
}

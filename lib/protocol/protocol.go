// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the line-delimited JSON wire protocol
// between the bridge and the worker process.
//
// Commands flow bridge→worker on the worker's stdin; events flow
// worker→bridge on its stdout. Each record is exactly one UTF-8 JSON
// object followed by a newline. Command type tags are snake_case and
// field names are camelCase; both are a versioned compatibility
// surface with the worker binary and must not change without a
// protocol version bump.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cowork-app/cowork/lib/credential"
)

// CommandType tags a bridge→worker command. The set is closed.
type CommandType string

const (
	CommandStartTask     CommandType = "start_task"
	CommandCancelTask    CommandType = "cancel_task"
	CommandInterruptTask CommandType = "interrupt_task"
	CommandSendResponse  CommandType = "send_response"
	CommandPing          CommandType = "ping"
	CommandCheckCli      CommandType = "check_cli"
)

// Command is one bridge→worker instruction. Commands are transient:
// built, encoded, written, and discarded. TaskID is empty for the
// connectivity commands (ping, check_cli); Payload is set only for
// start_task and send_response.
type Command struct {
	Type    CommandType `json:"type"`
	TaskID  string      `json:"taskId,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

// StartTaskPayload carries everything the worker needs to begin a task.
// SessionID is set when resuming a prior worker session; APIKeys is
// assembled fresh from the secret store for every start.
type StartTaskPayload struct {
	TaskID           string           `json:"taskId"`
	Prompt           string           `json:"prompt"`
	SessionID        string           `json:"sessionId,omitempty"`
	APIKeys          *credential.Keys `json:"apiKeys,omitempty"`
	WorkingDirectory string           `json:"workingDirectory,omitempty"`
	ModelID          string           `json:"modelId,omitempty"`
}

// SendResponsePayload carries the user's reply to a permission request.
type SendResponsePayload struct {
	Response string `json:"response"`
}

// StartTask builds a start_task command.
func StartTask(taskID string, payload StartTaskPayload) Command {
	return Command{Type: CommandStartTask, TaskID: taskID, Payload: payload}
}

// CancelTask builds a cancel_task command.
func CancelTask(taskID string) Command {
	return Command{Type: CommandCancelTask, TaskID: taskID}
}

// InterruptTask builds an interrupt_task command.
func InterruptTask(taskID string) Command {
	return Command{Type: CommandInterruptTask, TaskID: taskID}
}

// SendResponse builds a send_response command.
func SendResponse(taskID string, response string) Command {
	return Command{Type: CommandSendResponse, TaskID: taskID, Payload: SendResponsePayload{Response: response}}
}

// Ping builds a ping command.
func Ping() Command {
	return Command{Type: CommandPing}
}

// CheckCli builds a check_cli command. The worker replies with a
// cli_status event describing the installed CLI toolchain.
func CheckCli() Command {
	return Command{Type: CommandCheckCli}
}

// Event is one worker→bridge notification, decoded from a single line
// of worker stdout. Payload is kept as raw JSON: its shape varies per
// event type and is a contract between the worker and the UI layer,
// opaque to the bridge.
type Event struct {
	Type    string          `json:"type"`
	TaskID  string          `json:"taskId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrMissingType marks a line that parsed as JSON but has no usable
// "type" field.
var ErrMissingType = errors.New("event has no type field")

// DecodeError reports a worker output line that could not be decoded.
// The reader loop logs and discards such lines; they never surface to
// the UI.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding worker event %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeCommand serializes a command as one newline-terminated JSON
// record. json.Marshal escapes any newline inside string fields, so
// the record never contains an embedded raw newline.
func EncodeCommand(command Command) ([]byte, error) {
	data, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("encoding %s command: %w", command.Type, err)
	}
	return append(data, '\n'), nil
}

// DecodeEvent parses one line of worker stdout. A line that is not
// valid JSON, or that lacks the required type field, yields a
// *DecodeError; callers discard the line and keep reading.
func DecodeEvent(line []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		return Event{}, &DecodeError{Line: line, Err: err}
	}
	if event.Type == "" {
		return Event{}, &DecodeError{Line: line, Err: ErrMissingType}
	}
	return event, nil
}

func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}

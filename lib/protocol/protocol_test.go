// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cowork-app/cowork/lib/credential"
)

func TestEncodeCommandShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command Command
		want    map[string]any
	}{
		{
			name:    "cancel_task",
			command: CancelTask("task_1"),
			want:    map[string]any{"type": "cancel_task", "taskId": "task_1"},
		},
		{
			name:    "interrupt_task",
			command: InterruptTask("task_2"),
			want:    map[string]any{"type": "interrupt_task", "taskId": "task_2"},
		},
		{
			name:    "ping",
			command: Ping(),
			want:    map[string]any{"type": "ping"},
		},
		{
			name:    "check_cli",
			command: CheckCli(),
			want:    map[string]any{"type": "check_cli"},
		},
		{
			name:    "send_response",
			command: SendResponse("task_3", "yes"),
			want: map[string]any{
				"type":    "send_response",
				"taskId":  "task_3",
				"payload": map[string]any{"response": "yes"},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			data, err := EncodeCommand(test.command)
			if err != nil {
				t.Fatalf("EncodeCommand: %v", err)
			}
			if data[len(data)-1] != '\n' {
				t.Fatal("record is not newline-terminated")
			}
			if bytes.ContainsRune(data[:len(data)-1], '\n') {
				t.Fatal("record contains an embedded newline")
			}

			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("record is not valid JSON: %v", err)
			}
			assertEqualJSON(t, got, test.want)
		})
	}
}

func TestEncodeStartTask(t *testing.T) {
	t.Parallel()

	command := StartTask("task_42", StartTaskPayload{
		TaskID:    "task_42",
		Prompt:    "hello\nworld",
		SessionID: "session_7",
		APIKeys:   &credential.Keys{Anthropic: "sk-ant-test"},
	})

	data, err := EncodeCommand(command)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	// A newline inside the prompt must be escaped, never raw.
	if bytes.ContainsRune(data[:len(data)-1], '\n') {
		t.Fatal("prompt newline leaked into the record unescaped")
	}

	var got struct {
		Type    string `json:"type"`
		TaskID  string `json:"taskId"`
		Payload struct {
			TaskID    string `json:"taskId"`
			Prompt    string `json:"prompt"`
			SessionID string `json:"sessionId"`
			APIKeys   struct {
				Anthropic string `json:"anthropic"`
			} `json:"apiKeys"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "start_task" || got.TaskID != "task_42" {
		t.Errorf("envelope = %q/%q", got.Type, got.TaskID)
	}
	if got.Payload.Prompt != "hello\nworld" {
		t.Errorf("prompt did not round-trip: %q", got.Payload.Prompt)
	}
	if got.Payload.SessionID != "session_7" {
		t.Errorf("sessionId = %q", got.Payload.SessionID)
	}
	if got.Payload.APIKeys.Anthropic != "sk-ant-test" {
		t.Errorf("apiKeys.anthropic = %q", got.Payload.APIKeys.Anthropic)
	}
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	event, err := DecodeEvent([]byte(`{"type":"task_complete","taskId":"task_42","payload":{"status":"ok"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if event.Type != "task_complete" {
		t.Errorf("Type = %q", event.Type)
	}
	if event.TaskID != "task_42" {
		t.Errorf("TaskID = %q", event.TaskID)
	}
	if string(event.Payload) != `{"status":"ok"}` {
		t.Errorf("Payload = %s", event.Payload)
	}
}

func TestDecodeEventWithoutTaskID(t *testing.T) {
	t.Parallel()

	event, err := DecodeEvent([]byte(`{"type":"ready"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if event.TaskID != "" || event.Payload != nil {
		t.Errorf("event = %+v, want bare ready", event)
	}
}

func TestDecodeEventErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid JSON", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeEvent([]byte("not json at all"))
		var decodeError *DecodeError
		if !errors.As(err, &decodeError) {
			t.Fatalf("err = %v, want *DecodeError", err)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeEvent([]byte(`{"taskId":"task_1"}`))
		if !errors.Is(err, ErrMissingType) {
			t.Fatalf("err = %v, want ErrMissingType", err)
		}
	})
}

// assertEqualJSON compares two decoded JSON values via re-marshaling,
// which normalizes map ordering.
func assertEqualJSON(t *testing.T, got, want any) {
	t.Helper()
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if !bytes.Equal(gotJSON, wantJSON) {
		t.Errorf("got %s, want %s", gotJSON, wantJSON)
	}
}

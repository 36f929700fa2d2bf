// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cowork-app/cowork/lib/credential"
	"github.com/cowork-app/cowork/lib/protocol"
	"github.com/cowork-app/cowork/lib/worker"
)

// fakeSupervisor records the commands a bridge sends.
type fakeSupervisor struct {
	running  bool
	spawned  int
	stopped  int
	commands []protocol.Command

	spawnErr error
	sendErr  error
}

func (f *fakeSupervisor) Spawn(ctx context.Context) error {
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.spawned++
	f.running = true
	return nil
}

func (f *fakeSupervisor) SendCommand(command protocol.Command) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.running {
		return worker.ErrNotRunning
	}
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeSupervisor) Stop() error {
	f.stopped++
	f.running = false
	return nil
}

func (f *fakeSupervisor) IsRunning() bool {
	return f.running
}

type mapStore map[string]string

func (m mapStore) Get(provider string) (string, bool, error) {
	value, found := m[provider]
	return value, found, nil
}

type failingStore struct{}

func (failingStore) Get(provider string) (string, bool, error) {
	return "", false, errors.New("keychain unavailable")
}

func newTestBridge(t *testing.T, supervisor Supervisor, store credential.Store) *Bridge {
	t.Helper()
	b, err := New(Config{Supervisor: supervisor, Credentials: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNewRequiresSupervisor(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for a missing supervisor")
	}
}

func TestStartTaskSpawnsAndSends(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{}
	b := newTestBridge(t, supervisor, mapStore{"anthropic": "sk-ant-test"})

	task, err := b.StartTask(context.Background(), "write a haiku", StartOptions{})
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if supervisor.spawned != 1 {
		t.Errorf("spawned %d times, want 1", supervisor.spawned)
	}
	if task.Status != StatusStarting {
		t.Errorf("status = %s, want %s", task.Status, StatusStarting)
	}
	if !strings.HasPrefix(task.ID, "task_") {
		t.Errorf("task ID = %s, want task_ prefix", task.ID)
	}

	if len(supervisor.commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(supervisor.commands))
	}
	command := supervisor.commands[0]
	if command.Type != protocol.CommandStartTask || command.TaskID != task.ID {
		t.Fatalf("unexpected command: %+v", command)
	}
	payload, ok := command.Payload.(protocol.StartTaskPayload)
	if !ok {
		t.Fatalf("payload type %T", command.Payload)
	}
	if payload.Prompt != "write a haiku" || payload.TaskID != task.ID {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if payload.APIKeys == nil || payload.APIKeys.Anthropic != "sk-ant-test" {
		t.Errorf("API keys not assembled into payload: %+v", payload.APIKeys)
	}
}

func TestStartTaskSkipsSpawnWhenRunning(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{running: true}
	b := newTestBridge(t, supervisor, nil)

	if _, err := b.StartTask(context.Background(), "p", StartOptions{}); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if supervisor.spawned != 0 {
		t.Errorf("spawned %d times for an already-running worker", supervisor.spawned)
	}
}

func TestStartTaskHonorsOptions(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{running: true}
	b := newTestBridge(t, supervisor, nil)

	task, err := b.StartTask(context.Background(), "p", StartOptions{
		TaskID:           "task_preallocated",
		WorkingDirectory: "/work/repo",
		ModelID:          "claude-sonnet-4-5",
	})
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if task.ID != "task_preallocated" {
		t.Errorf("task ID = %s, want the caller's ID", task.ID)
	}
	payload := supervisor.commands[0].Payload.(protocol.StartTaskPayload)
	if payload.WorkingDirectory != "/work/repo" || payload.ModelID != "claude-sonnet-4-5" {
		t.Errorf("options dropped from payload: %+v", payload)
	}
}

func TestStartTaskCredentialFailure(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{}
	b := newTestBridge(t, supervisor, failingStore{})

	if _, err := b.StartTask(context.Background(), "p", StartOptions{}); err == nil {
		t.Fatal("expected an error when credential assembly fails")
	}
	if supervisor.spawned != 0 || len(supervisor.commands) != 0 {
		t.Error("worker touched despite credential failure")
	}
}

func TestStartTaskSpawnFailure(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{spawnErr: worker.ErrWorkerNotFound}
	b := newTestBridge(t, supervisor, nil)

	_, err := b.StartTask(context.Background(), "p", StartOptions{})
	if !errors.Is(err, worker.ErrWorkerNotFound) {
		t.Fatalf("StartTask = %v, want ErrWorkerNotFound", err)
	}
}

func TestResumeSession(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{running: true}
	b := newTestBridge(t, supervisor, nil)

	task, err := b.ResumeSession(context.Background(), "session_7", "continue", StartOptions{})
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if task.SessionID != "session_7" {
		t.Errorf("task session = %s, want session_7", task.SessionID)
	}
	payload := supervisor.commands[0].Payload.(protocol.StartTaskPayload)
	if payload.SessionID != "session_7" {
		t.Errorf("payload session = %s, want session_7", payload.SessionID)
	}

	if _, err := b.ResumeSession(context.Background(), "", "continue", StartOptions{}); err == nil {
		t.Fatal("expected an error for an empty session ID")
	}
}

func TestCancelInterruptNoopWhenStopped(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{}
	b := newTestBridge(t, supervisor, nil)

	if err := b.CancelTask("task_1"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if err := b.InterruptTask("task_1"); err != nil {
		t.Fatalf("InterruptTask: %v", err)
	}
	if err := b.RespondToPermission("task_1", true); err != nil {
		t.Fatalf("RespondToPermission: %v", err)
	}
	if len(supervisor.commands) != 0 {
		t.Errorf("commands sent to a stopped worker: %+v", supervisor.commands)
	}
}

func TestRespondToPermissionMapsAnswer(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{running: true}
	b := newTestBridge(t, supervisor, nil)

	if err := b.RespondToPermission("task_1", true); err != nil {
		t.Fatalf("RespondToPermission(allow): %v", err)
	}
	if err := b.RespondToPermission("task_1", false); err != nil {
		t.Fatalf("RespondToPermission(deny): %v", err)
	}

	if len(supervisor.commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(supervisor.commands))
	}
	for i, want := range []string{"yes", "no"} {
		command := supervisor.commands[i]
		if command.Type != protocol.CommandSendResponse {
			t.Fatalf("command %d = %s, want send_response", i, command.Type)
		}
		payload := command.Payload.(protocol.SendResponsePayload)
		if payload.Response != want {
			t.Errorf("response %d = %q, want %q", i, payload.Response, want)
		}
	}
}

func TestPingRequiresRunningWorker(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{}
	b := newTestBridge(t, supervisor, nil)

	if err := b.Ping(); !errors.Is(err, worker.ErrNotRunning) {
		t.Fatalf("Ping = %v, want ErrNotRunning", err)
	}

	supervisor.running = true
	if err := b.Ping(); err != nil {
		t.Fatalf("Ping with a running worker: %v", err)
	}
	if err := b.CheckCli(); err != nil {
		t.Fatalf("CheckCli: %v", err)
	}
}

func TestSubmittedCommandEncodes(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{running: true}
	b := newTestBridge(t, supervisor, mapStore{"openai": "sk-test"})

	task, err := b.StartTask(context.Background(), "p", StartOptions{})
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	// The command the UI path produces must survive wire encoding.
	data, err := protocol.EncodeCommand(supervisor.commands[0])
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("re-decoding encoded command: %v", err)
	}
	if decoded["type"] != "start_task" || decoded["taskId"] != task.ID {
		t.Errorf("unexpected wire shape: %v", decoded)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	supervisor := &fakeSupervisor{running: true}
	b := newTestBridge(t, supervisor, nil)

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if supervisor.stopped != 1 {
		t.Errorf("stopped %d times, want 1", supervisor.stopped)
	}
}

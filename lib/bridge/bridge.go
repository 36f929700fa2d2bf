// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cowork-app/cowork/lib/credential"
	"github.com/cowork-app/cowork/lib/protocol"
)

// StatusStarting is the status of a freshly submitted task. Later
// transitions arrive as worker events.
const StatusStarting = "starting"

// Supervisor is the worker process control surface the bridge needs.
// *worker.Supervisor implements it.
type Supervisor interface {
	Spawn(ctx context.Context) error
	SendCommand(command protocol.Command) error
	Stop() error
	IsRunning() bool
}

// Config holds the bridge dependencies.
type Config struct {
	// Supervisor controls the worker process. Required.
	Supervisor Supervisor

	// Credentials supplies provider API keys for task submission.
	// Nil means tasks are submitted without keys.
	Credentials credential.Store

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Bridge implements the UI-facing task operations.
type Bridge struct {
	supervisor  Supervisor
	credentials credential.Store
	logger      *slog.Logger
}

// Task is what the UI receives immediately on submission. The status
// is always "starting"; actual progress arrives via events.
type Task struct {
	ID        string     `json:"id"`
	Prompt    string     `json:"prompt"`
	Status    string     `json:"status"`
	SessionID string     `json:"sessionId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// StartOptions carries the optional parameters of a task submission.
type StartOptions struct {
	// TaskID overrides the generated identifier. Used when the UI
	// pre-allocates an ID for optimistic rendering.
	TaskID string

	// WorkingDirectory is where the worker runs the task.
	WorkingDirectory string

	// ModelID selects the model; empty lets the worker choose.
	ModelID string
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("bridge requires a supervisor")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{
		supervisor:  cfg.Supervisor,
		credentials: cfg.Credentials,
		logger:      logger,
	}, nil
}

// NewTaskID mints a task identifier.
func NewTaskID() string {
	return "task_" + uuid.NewString()
}

// StartTask submits a new task. It assembles API keys, spawns the
// worker if needed, and sends the start command. The returned Task is
// the UI's optimistic view; a send failure after spawn is returned as
// an error and no Task is produced.
func (b *Bridge) StartTask(ctx context.Context, prompt string, opts StartOptions) (Task, error) {
	return b.submit(ctx, prompt, "", opts)
}

// ResumeSession submits a task that continues an earlier worker
// session. The worker replays context from the session before
// applying the new prompt.
func (b *Bridge) ResumeSession(ctx context.Context, sessionID string, prompt string, opts StartOptions) (Task, error) {
	if sessionID == "" {
		return Task{}, fmt.Errorf("resume requires a session ID")
	}
	return b.submit(ctx, prompt, sessionID, opts)
}

func (b *Bridge) submit(ctx context.Context, prompt string, sessionID string, opts StartOptions) (Task, error) {
	taskID := opts.TaskID
	if taskID == "" {
		taskID = NewTaskID()
	}

	var keys *credential.Keys
	if b.credentials != nil {
		assembled, err := credential.Assemble(b.credentials)
		if err != nil {
			return Task{}, fmt.Errorf("assembling API keys: %w", err)
		}
		keys = assembled
	}

	if !b.supervisor.IsRunning() {
		if err := b.supervisor.Spawn(ctx); err != nil {
			return Task{}, fmt.Errorf("spawning worker: %w", err)
		}
	}

	command := protocol.StartTask(taskID, protocol.StartTaskPayload{
		TaskID:           taskID,
		Prompt:           prompt,
		SessionID:        sessionID,
		APIKeys:          keys,
		WorkingDirectory: opts.WorkingDirectory,
		ModelID:          opts.ModelID,
	})
	if err := b.supervisor.SendCommand(command); err != nil {
		return Task{}, fmt.Errorf("submitting task %s: %w", taskID, err)
	}

	now := time.Now().UTC()
	task := Task{
		ID:        taskID,
		Prompt:    prompt,
		Status:    StatusStarting,
		SessionID: sessionID,
		CreatedAt: now,
		StartedAt: &now,
	}
	b.logger.Info("task submitted", "task_id", taskID, "resumed", sessionID != "")
	return task, nil
}

// CancelTask asks the worker to cancel a task. A no-op when no worker
// is running: there is nothing left to cancel.
func (b *Bridge) CancelTask(taskID string) error {
	return b.sendIfRunning(protocol.CancelTask(taskID))
}

// InterruptTask asks the worker to interrupt a task without tearing
// down its session. A no-op when no worker is running.
func (b *Bridge) InterruptTask(taskID string) error {
	return b.sendIfRunning(protocol.InterruptTask(taskID))
}

// RespondToPermission answers a pending permission request. The
// worker's permission prompt accepts plain "yes"/"no" text. A no-op
// when no worker is running.
func (b *Bridge) RespondToPermission(taskID string, allowed bool) error {
	response := "no"
	if allowed {
		response = "yes"
	}
	return b.sendIfRunning(protocol.SendResponse(taskID, response))
}

// Ping sends a liveness probe. Unlike the task operations, pinging a
// stopped worker is an error the caller wants to see.
func (b *Bridge) Ping() error {
	return b.supervisor.SendCommand(protocol.Ping())
}

// CheckCli asks the worker to verify its CLI installation.
func (b *Bridge) CheckCli() error {
	return b.supervisor.SendCommand(protocol.CheckCli())
}

// Shutdown stops the worker process.
func (b *Bridge) Shutdown() error {
	return b.supervisor.Stop()
}

func (b *Bridge) sendIfRunning(command protocol.Command) error {
	if !b.supervisor.IsRunning() {
		return nil
	}
	return b.supervisor.SendCommand(command)
}

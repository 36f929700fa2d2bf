// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cowork-app/cowork/lib/bridge"
	"github.com/cowork-app/cowork/lib/keychain"
	"github.com/cowork-app/cowork/lib/router"
	"github.com/cowork-app/cowork/lib/taskstore"
)

// A request is one UI→bridge instruction. Args are decoded per-op.
type request struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// A reply answers one request. Exactly one of Result and Error is
// set, discriminated by OK.
type reply struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// outwardEvent is a routed worker event on the UI stream. Events carry
// a topic; replies carry an id. The UI disambiguates on that.
type outwardEvent struct {
	Topic   string          `json:"topic"`
	TaskID  string          `json:"taskId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// emitter serializes everything written to the UI stream. Worker
// events arrive from the supervisor's reader goroutine while replies
// come from the request loop, so every write takes the mutex.
type emitter struct {
	mu  sync.Mutex
	out io.Writer
}

func newEmitter(out io.Writer) *emitter {
	return &emitter{out: out}
}

// Emit implements router.Sink.
func (e *emitter) Emit(topic string, event router.Outward) {
	e.writeLine(outwardEvent{
		Topic:   topic,
		TaskID:  event.TaskID,
		Payload: event.Payload,
	})
}

func (e *emitter) reply(r reply) {
	e.writeLine(r)
}

func (e *emitter) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		// Nothing downstream can recover a value that does not
		// marshal; drop it rather than corrupt the stream.
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out.Write(append(data, '\n'))
}

// server dispatches UI requests to the bridge, the task store, and
// the keychain.
type server struct {
	bridge   *bridge.Bridge
	store    *taskstore.Store
	keychain *keychain.Keychain
	emitter  *emitter
	logger   *slog.Logger
}

// serve reads requests line by line until input closes or ctx is
// cancelled. Requests are handled serially in arrival order.
func (s *server) serve(ctx context.Context, input io.Reader) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return s.bridge.Shutdown()
		case line, ok := <-lines:
			if !ok {
				s.logger.Info("input closed, shutting down")
				s.bridge.Shutdown()
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			s.dispatch(ctx, line)
		}
	}
}

func (s *server) dispatch(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("discarding undecodable request", "error", err)
		return
	}
	if req.Op == "" {
		s.logger.Warn("discarding request without op", "id", req.ID)
		return
	}

	result, err := s.handle(ctx, req)
	if err != nil {
		s.logger.Warn("request failed", "op", req.Op, "error", err)
		s.emitter.reply(reply{ID: req.ID, OK: false, Error: err.Error()})
		return
	}
	s.emitter.reply(reply{ID: req.ID, OK: true, Result: result})
}

func (s *server) handle(ctx context.Context, req request) (any, error) {
	switch req.Op {

	// Worker and task control.
	case "start_task":
		var args struct {
			Prompt           string `json:"prompt"`
			TaskID           string `json:"taskId"`
			WorkingDirectory string `json:"workingDirectory"`
			ModelID          string `json:"modelId"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		task, err := s.bridge.StartTask(ctx, args.Prompt, bridge.StartOptions{
			TaskID:           args.TaskID,
			WorkingDirectory: args.WorkingDirectory,
			ModelID:          args.ModelID,
		})
		if err != nil {
			return nil, err
		}
		s.persistSubmission(ctx, task)
		return task, nil

	case "resume_session":
		var args struct {
			SessionID        string `json:"sessionId"`
			Prompt           string `json:"prompt"`
			TaskID           string `json:"taskId"`
			WorkingDirectory string `json:"workingDirectory"`
			ModelID          string `json:"modelId"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		task, err := s.bridge.ResumeSession(ctx, args.SessionID, args.Prompt, bridge.StartOptions{
			TaskID:           args.TaskID,
			WorkingDirectory: args.WorkingDirectory,
			ModelID:          args.ModelID,
		})
		if err != nil {
			return nil, err
		}
		s.persistSubmission(ctx, task)
		return task, nil

	case "cancel_task":
		taskID, err := taskIDArg(req.Args)
		if err != nil {
			return nil, err
		}
		return nil, s.bridge.CancelTask(taskID)

	case "interrupt_task":
		taskID, err := taskIDArg(req.Args)
		if err != nil {
			return nil, err
		}
		return nil, s.bridge.InterruptTask(taskID)

	case "respond_permission":
		var args struct {
			TaskID  string `json:"taskId"`
			Allowed bool   `json:"allowed"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.bridge.RespondToPermission(args.TaskID, args.Allowed)

	case "ping":
		return nil, s.bridge.Ping()

	case "check_cli":
		return nil, s.bridge.CheckCli()

	case "stop_worker":
		return nil, s.bridge.Shutdown()

	// Task history.
	case "get_task":
		taskID, err := taskIDArg(req.Args)
		if err != nil {
			return nil, err
		}
		return s.store.GetTask(ctx, taskID)

	case "list_tasks":
		return s.store.ListTasks(ctx)

	case "save_task":
		var task taskstore.Task
		if err := decodeArgs(req.Args, &task); err != nil {
			return nil, err
		}
		return nil, s.store.SaveTask(ctx, task)

	case "append_message":
		var args struct {
			TaskID  string            `json:"taskId"`
			Message taskstore.Message `json:"message"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.AppendMessage(ctx, args.TaskID, args.Message)

	case "update_task_status":
		var args struct {
			TaskID string `json:"taskId"`
			Status string `json:"status"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.UpdateStatus(ctx, args.TaskID, args.Status)

	case "update_task_session":
		var args struct {
			TaskID    string `json:"taskId"`
			SessionID string `json:"sessionId"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.UpdateSessionID(ctx, args.TaskID, args.SessionID)

	case "update_task_summary":
		var args struct {
			TaskID  string `json:"taskId"`
			Summary string `json:"summary"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.UpdateSummary(ctx, args.TaskID, args.Summary)

	case "delete_task":
		taskID, err := taskIDArg(req.Args)
		if err != nil {
			return nil, err
		}
		return nil, s.store.DeleteTask(ctx, taskID)

	case "clear_task_history":
		return nil, s.store.ClearHistory(ctx)

	// API keys.
	case "set_api_key":
		var args struct {
			Provider string `json:"provider"`
			Value    string `json:"value"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.keychain.Set(args.Provider, args.Value)

	case "delete_api_key":
		var args struct {
			Provider string `json:"provider"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		removed, err := s.keychain.Delete(args.Provider)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"removed": removed}, nil

	case "api_key_status":
		return s.keychain.AllStatus()

	case "clear_api_keys":
		return nil, s.keychain.Clear()

	// Settings.
	case "get_settings":
		return s.store.Settings(ctx)

	case "set_debug_mode":
		var args struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.SetDebugMode(ctx, args.Enabled)

	case "set_onboarding_complete":
		var args struct {
			Complete bool `json:"complete"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.SetOnboardingComplete(ctx, args.Complete)

	case "set_selected_model":
		var args struct {
			Model json.RawMessage `json:"model"`
		}
		if err := decodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		return nil, s.store.SetSelectedModel(ctx, args.Model)

	default:
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
}

// persistSubmission records the optimistic task so history survives a
// UI crash between submission and the first save_task. Persistence is
// best-effort; the submission already succeeded.
func (s *server) persistSubmission(ctx context.Context, task bridge.Task) {
	err := s.store.SaveTask(ctx, taskstore.Task{
		ID:        task.ID,
		Prompt:    task.Prompt,
		Status:    task.Status,
		SessionID: task.SessionID,
		CreatedAt: task.CreatedAt,
		StartedAt: task.StartedAt,
	})
	if err != nil {
		s.logger.Warn("persisting submitted task failed", "task_id", task.ID, "error", err)
	}
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing args")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	return nil
}

func taskIDArg(raw json.RawMessage) (string, error) {
	var args struct {
		TaskID string `json:"taskId"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.TaskID == "" {
		return "", fmt.Errorf("missing taskId")
	}
	return args.TaskID, nil
}

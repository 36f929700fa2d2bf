// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package router maps decoded worker events to the outward topics
// consumed by the UI layer.
//
// Worker-internal event type strings are deliberately not the same
// strings as UI-facing topics: the indirection lets the worker
// protocol evolve independently of the UI event taxonomy. The mapping
// table is closed — an event type not in the table is dropped with a
// logged warning so malformed or future-versioned worker output never
// reaches UI state.
package router

import (
	"encoding/json"
	"log/slog"

	"github.com/cowork-app/cowork/lib/protocol"
)

// Topics emitted outside the type→topic table: process termination and
// raw stderr diagnostics, which originate in the supervisor rather
// than in protocol traffic.
const (
	TopicTerminated = "sidecar:terminated"
	TopicStderr     = "sidecar:stderr"
)

// topics maps worker event types to outward topic names. Closed set;
// see the package comment.
var topics = map[string]string{
	"ready":              "sidecar:ready",
	"pong":               "sidecar:pong",
	"cli_status":         "sidecar:cli_status",
	"task_started":       "task:started",
	"task_message":       "task:message",
	"task_progress":      "task:progress",
	"permission_request": "task:permission_request",
	"task_complete":      "task:complete",
	"task_error":         "task:error",
	"log":                "sidecar:log",
	"error":              "sidecar:error",
}

// Outward is the payload delivered to the sink: the task identifier
// when the event carried one, and the worker's payload verbatim. The
// router does not interpret the payload's internal shape.
type Outward struct {
	TaskID  string          `json:"taskId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Sink receives outward events. This is the only output surface of the
// bridge; the UI layer provides the implementation.
type Sink interface {
	Emit(topic string, event Outward)
}

// Router translates worker events to sink emissions.
type Router struct {
	sink   Sink
	logger *slog.Logger
}

// New creates a Router emitting to sink. A nil logger discards
// diagnostics.
func New(sink Sink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{sink: sink, logger: logger}
}

// HandleEvent routes one decoded worker event. Unrecognized types are
// dropped with a warning and produce no emission.
func (r *Router) HandleEvent(event protocol.Event) {
	topic, ok := topics[event.Type]
	if !ok {
		r.logger.Warn("dropping unrecognized worker event", "type", event.Type, "task_id", event.TaskID)
		return
	}
	r.sink.Emit(topic, Outward{TaskID: event.TaskID, Payload: event.Payload})
}

// HandleDiagnostic forwards one line of the worker's stderr verbatim.
// Stderr is human-readable logging, not protocol traffic, so the line
// is never JSON-parsed.
func (r *Router) HandleDiagnostic(line string) {
	r.logger.Debug("worker stderr", "line", line)
	payload, err := json.Marshal(line)
	if err != nil {
		return
	}
	r.sink.Emit(TopicStderr, Outward{Payload: payload})
}

// HandleTermination emits the termination notification for a worker
// exit. hasCode is false when the process was killed or the exit code
// is unavailable; the emitted payload then carries a null code.
func (r *Router) HandleTermination(exitCode int, hasCode bool) {
	var code *int
	if hasCode {
		code = &exitCode
	}
	payload, err := json.Marshal(struct {
		Code *int `json:"code"`
	}{Code: code})
	if err != nil {
		return
	}
	r.logger.Info("worker terminated", "exit_code", code)
	r.sink.Emit(TopicTerminated, Outward{Payload: payload})
}

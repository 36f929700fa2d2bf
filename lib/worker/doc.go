// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker supervises the sidecar worker process that executes
// tasks on behalf of the UI.
//
// At most one worker process exists at a time. The Supervisor owns its
// handle exclusively: spawn, command transmission over stdin, output
// demultiplexing, termination, and crash detection. All state is
// guarded by a single mutex; the stdout and stderr reader loops run on
// their own goroutines and never hold the lock while blocked on a
// read.
//
// The protocol is fire-and-forget: SendCommand succeeding means the
// command was written to the worker's stdin, not that the worker
// accepted it. There is no request/response correlation beyond the
// shared task identifier, and no retry anywhere — every retry decision
// belongs to the caller.
package worker

// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge exposes the UI-facing task operations.
//
// The Bridge sits between UI intent ("start a task") and the worker
// protocol: it mints task identifiers, assembles provider credentials,
// makes sure the worker process is running, and sends the
// corresponding command. It holds no task state of its own — progress
// arrives asynchronously as routed events, and durable history is the
// task store's job.
//
// Operations on tasks that may already be gone (cancel, interrupt,
// permission responses) are deliberately forgiving: when no worker is
// running there is nothing to cancel, so they succeed as no-ops.
package bridge

// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskstore persists task history and application settings in
// SQLite.
//
// The store is the UI's durable record of what ran: each task keeps
// its prompt, status, session identifier, timestamps, and an ordered
// message transcript with optional attachments. History is capped at
// the most recent 100 tasks; older tasks are pruned on save.
//
// Settings live in a single-row table: debug mode, onboarding state,
// and the selected model (stored as opaque JSON chosen by the UI).
//
// The store never talks to the worker process. Callers persist task
// state around worker operations; the bridge does not route events
// through storage.
package taskstore

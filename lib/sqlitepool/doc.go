// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Cowork-standard SQLite connection
// pool.
//
// It wraps zombiezen.com/go/sqlite with the defaults local storage
// wants: WAL journal mode, NORMAL synchronous for process-crash
// durability without fsync-per-commit overhead, a busy timeout to
// handle write contention, and foreign keys enabled because the task
// schema leans on ON DELETE CASCADE.
//
// Callers [Pool.Take] a connection, perform work, and [Pool.Put] it
// back. Connections are NOT safe for concurrent use; each goroutine
// must hold its own connection for the duration of its work.
//
// The package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Consumers write
// SQL, use sqlitex.Execute for cached statements, and manage
// transactions with sqlitex.ImmediateTransaction.
package sqlitepool

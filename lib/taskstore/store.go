// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cowork-app/cowork/lib/sqlitepool"
)

// maxHistory caps the number of tasks kept. SaveTask prunes the
// oldest tasks beyond this limit.
const maxHistory = 100

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	summary TEXT,
	status TEXT NOT NULL,
	session_id TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS task_messages (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_name TEXT,
	tool_input TEXT,
	timestamp TEXT NOT NULL,
	sort_order INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS task_attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL REFERENCES task_messages(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	data TEXT NOT NULL,
	label TEXT
);

CREATE TABLE IF NOT EXISTS app_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	debug_mode INTEGER NOT NULL DEFAULT 0,
	onboarding_complete INTEGER NOT NULL DEFAULT 0,
	selected_model TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_task_id ON task_messages(task_id);

INSERT INTO app_settings (id)
	SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM app_settings WHERE id = 1);
`

// A Task is one entry in the task history. The JSON shape is what the
// UI consumes directly.
type Task struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Summary     string     `json:"summary,omitempty"`
	Status      string     `json:"status"`
	SessionID   string     `json:"sessionId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Messages    []Message  `json:"messages"`
}

// A Message is one entry in a task's transcript.
type Message struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// An Attachment is auxiliary content carried by a message, such as an
// image or a file reference. Data is stored verbatim.
type Attachment struct {
	Type  string `json:"type"`
	Data  string `json:"data"`
	Label string `json:"label,omitempty"`
}

// Settings is the application settings singleton. SelectedModel is
// opaque JSON chosen by the UI; the store never inspects it.
type Settings struct {
	DebugMode          bool            `json:"debugMode"`
	OnboardingComplete bool            `json:"onboardingComplete"`
	SelectedModel      json.RawMessage `json:"selectedModel,omitempty"`
}

// Config holds the parameters for opening a task store.
type Config struct {
	// Path is the filesystem path to the database file. The parent
	// directory must exist.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
}

// Store persists task history and settings. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open creates the store, creating the database file and schema if
// they do not exist. The caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// SaveTask upserts a task together with its full transcript, then
// prunes history beyond the retention cap. The transcript in the
// database is replaced wholesale by task.Messages.
func (s *Store) SaveTask(ctx context.Context, task Task) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("taskstore: beginning save transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		INSERT OR REPLACE INTO tasks
			(id, prompt, summary, status, session_id, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				task.ID,
				task.Prompt,
				nullableText(task.Summary),
				task.Status,
				nullableText(task.SessionID),
				timeText(task.CreatedAt),
				nullableTime(task.StartedAt),
				nullableTime(task.CompletedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("taskstore: saving task %s: %w", task.ID, err)
	}

	// Replace the transcript. The cascade removes attachments.
	err = sqlitex.Execute(conn, "DELETE FROM task_messages WHERE task_id = ?",
		&sqlitex.ExecOptions{Args: []any{task.ID}})
	if err != nil {
		return fmt.Errorf("taskstore: clearing transcript for %s: %w", task.ID, err)
	}
	for order, message := range task.Messages {
		if err := insertMessage(conn, task.ID, message, order); err != nil {
			return err
		}
	}

	err = sqlitex.Execute(conn, `
		DELETE FROM tasks WHERE id NOT IN (
			SELECT id FROM tasks ORDER BY created_at DESC LIMIT ?
		)`,
		&sqlitex.ExecOptions{Args: []any{maxHistory}})
	if err != nil {
		return fmt.Errorf("taskstore: pruning history: %w", err)
	}
	return nil
}

// GetTask returns the task with the given ID, including its
// transcript, or nil if no such task exists.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var task *Task
	err = sqlitex.Execute(conn, `
		SELECT id, prompt, summary, status, session_id, created_at, started_at, completed_at
		FROM tasks WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanTask(stmt)
				if err != nil {
					return err
				}
				task = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("taskstore: loading task %s: %w", taskID, err)
	}
	if task == nil {
		return nil, nil
	}

	task.Messages, err = loadTranscript(conn, task.ID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns the task history, newest first, with transcripts
// included. At most the retention cap of tasks is returned.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var tasks []Task
	err = sqlitex.Execute(conn, `
		SELECT id, prompt, summary, status, session_id, created_at, started_at, completed_at
		FROM tasks ORDER BY created_at DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{maxHistory},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task, err := scanTask(stmt)
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("taskstore: listing tasks: %w", err)
	}

	for index := range tasks {
		tasks[index].Messages, err = loadTranscript(conn, tasks[index].ID)
		if err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// AppendMessage adds a message to the end of a task's transcript.
func (s *Store) AppendMessage(ctx context.Context, taskID string, message Message) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("taskstore: beginning append transaction: %w", err)
	}
	defer endTransaction(&err)

	nextOrder := 0
	err = sqlitex.Execute(conn,
		"SELECT COALESCE(MAX(sort_order) + 1, 0) FROM task_messages WHERE task_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				nextOrder = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("taskstore: computing sort order for %s: %w", taskID, err)
	}

	return insertMessage(conn, taskID, message, nextOrder)
}

// UpdateStatus sets a task's status.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status string) error {
	return s.updateField(ctx, taskID, "status", status)
}

// UpdateSessionID records the worker session backing a task, enabling
// later resumption.
func (s *Store) UpdateSessionID(ctx context.Context, taskID string, sessionID string) error {
	return s.updateField(ctx, taskID, "session_id", sessionID)
}

// UpdateSummary sets a task's display summary.
func (s *Store) UpdateSummary(ctx context.Context, taskID string, summary string) error {
	return s.updateField(ctx, taskID, "summary", summary)
}

func (s *Store) updateField(ctx context.Context, taskID string, column string, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	// column is always one of the fixed names above, never caller input.
	err = sqlitex.Execute(conn, "UPDATE tasks SET "+column+" = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{value, taskID}})
	if err != nil {
		return fmt.Errorf("taskstore: updating %s for task %s: %w", column, taskID, err)
	}
	return nil
}

// DeleteTask removes a task and its transcript. Deleting an unknown
// task is a no-op.
func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM tasks WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{taskID}})
	if err != nil {
		return fmt.Errorf("taskstore: deleting task %s: %w", taskID, err)
	}
	return nil
}

// ClearHistory removes all tasks.
func (s *Store) ClearHistory(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM tasks", nil); err != nil {
		return fmt.Errorf("taskstore: clearing history: %w", err)
	}
	return nil
}

// Settings returns the application settings singleton.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Settings{}, err
	}
	defer s.pool.Put(conn)

	var settings Settings
	err = sqlitex.Execute(conn,
		"SELECT debug_mode, onboarding_complete, selected_model FROM app_settings WHERE id = 1",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				settings.DebugMode = stmt.ColumnInt(0) != 0
				settings.OnboardingComplete = stmt.ColumnInt(1) != 0
				if model := stmt.ColumnText(2); model != "" {
					settings.SelectedModel = json.RawMessage(model)
				}
				return nil
			},
		})
	if err != nil {
		return Settings{}, fmt.Errorf("taskstore: loading settings: %w", err)
	}
	return settings, nil
}

// SetDebugMode toggles verbose diagnostics.
func (s *Store) SetDebugMode(ctx context.Context, enabled bool) error {
	return s.setSetting(ctx, "debug_mode", boolInt(enabled))
}

// SetOnboardingComplete records that the user finished onboarding.
func (s *Store) SetOnboardingComplete(ctx context.Context, complete bool) error {
	return s.setSetting(ctx, "onboarding_complete", boolInt(complete))
}

// SetSelectedModel stores the UI's model selection. A nil model clears
// the selection.
func (s *Store) SetSelectedModel(ctx context.Context, model json.RawMessage) error {
	var value any
	if model != nil {
		value = string(model)
	}
	return s.setSetting(ctx, "selected_model", value)
}

func (s *Store) setSetting(ctx context.Context, column string, value any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "UPDATE app_settings SET "+column+" = ? WHERE id = 1",
		&sqlitex.ExecOptions{Args: []any{value}})
	if err != nil {
		return fmt.Errorf("taskstore: updating %s: %w", column, err)
	}
	return nil
}

func insertMessage(conn *sqlite.Conn, taskID string, message Message, order int) error {
	var toolInput any
	if message.ToolInput != nil {
		toolInput = string(message.ToolInput)
	}
	err := sqlitex.Execute(conn, `
		INSERT INTO task_messages
			(id, task_id, type, content, tool_name, tool_input, timestamp, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				message.ID,
				taskID,
				message.Type,
				message.Content,
				nullableText(message.ToolName),
				toolInput,
				timeText(message.Timestamp),
				order,
			},
		})
	if err != nil {
		return fmt.Errorf("taskstore: inserting message %s: %w", message.ID, err)
	}

	for _, attachment := range message.Attachments {
		err := sqlitex.Execute(conn,
			"INSERT INTO task_attachments (message_id, type, data, label) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{
					message.ID,
					attachment.Type,
					attachment.Data,
					nullableText(attachment.Label),
				},
			})
		if err != nil {
			return fmt.Errorf("taskstore: inserting attachment for message %s: %w", message.ID, err)
		}
	}
	return nil
}

func loadTranscript(conn *sqlite.Conn, taskID string) ([]Message, error) {
	var messages []Message
	err := sqlitex.Execute(conn, `
		SELECT id, type, content, tool_name, tool_input, timestamp
		FROM task_messages WHERE task_id = ? ORDER BY sort_order ASC`,
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				message := Message{
					ID:       stmt.ColumnText(0),
					Type:     stmt.ColumnText(1),
					Content:  stmt.ColumnText(2),
					ToolName: stmt.ColumnText(3),
				}
				if input := stmt.ColumnText(4); input != "" {
					message.ToolInput = json.RawMessage(input)
				}
				timestamp, err := parseTime(stmt.ColumnText(5))
				if err != nil {
					return err
				}
				message.Timestamp = timestamp
				messages = append(messages, message)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("taskstore: loading transcript for %s: %w", taskID, err)
	}

	for index := range messages {
		attachments, err := loadAttachments(conn, messages[index].ID)
		if err != nil {
			return nil, err
		}
		messages[index].Attachments = attachments
	}
	return messages, nil
}

func loadAttachments(conn *sqlite.Conn, messageID string) ([]Attachment, error) {
	var attachments []Attachment
	err := sqlitex.Execute(conn, `
		SELECT type, data, label FROM task_attachments
		WHERE message_id = ? ORDER BY id ASC`,
		&sqlitex.ExecOptions{
			Args: []any{messageID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				attachments = append(attachments, Attachment{
					Type:  stmt.ColumnText(0),
					Data:  stmt.ColumnText(1),
					Label: stmt.ColumnText(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("taskstore: loading attachments for %s: %w", messageID, err)
	}
	return attachments, nil
}

func scanTask(stmt *sqlite.Stmt) (Task, error) {
	task := Task{
		ID:        stmt.ColumnText(0),
		Prompt:    stmt.ColumnText(1),
		Summary:   stmt.ColumnText(2),
		Status:    stmt.ColumnText(3),
		SessionID: stmt.ColumnText(4),
	}
	createdAt, err := parseTime(stmt.ColumnText(5))
	if err != nil {
		return Task{}, err
	}
	task.CreatedAt = createdAt

	if text := stmt.ColumnText(6); text != "" {
		startedAt, err := parseTime(text)
		if err != nil {
			return Task{}, err
		}
		task.StartedAt = &startedAt
	}
	if text := stmt.ColumnText(7); text != "" {
		completedAt, err := parseTime(text)
		if err != nil {
			return Task{}, err
		}
		task.CompletedAt = &completedAt
	}
	return task, nil
}

// Timestamps are stored as fixed-width RFC 3339 text so that lexical
// ordering in SQL matches chronological ordering.
func timeText(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(text string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("taskstore: parsing timestamp %q: %w", text, err)
	}
	return t, nil
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeText(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists messages, conflicts, quality gates, tasks and the progress log

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens a SQLite database at the given path.
// Parent directories are created if needed. Call Initialize before use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	logger.Info("SQLite store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Initialize creates the schema if it doesn't exist. Safe to call repeatedly.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			from_agent TEXT NOT NULL,
			to_agent   TEXT NOT NULL,
			content    TEXT NOT NULL,
			priority   TEXT NOT NULL,
			type       TEXT NOT NULL,
			timestamp  TEXT NOT NULL,
			is_read    INTEGER NOT NULL DEFAULT 0,
			metadata   TEXT,

			CHECK (priority IN ('low', 'medium', 'high', 'critical')),
			CHECK (type IN ('text', 'task', 'alert', 'notification'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent, timestamp);
		CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent, timestamp);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

		CREATE TABLE IF NOT EXISTS conflicts (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			description  TEXT NOT NULL,
			severity     TEXT NOT NULL,
			agents       TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			resolved_at  TEXT,
			resolution   TEXT,
			escalated_to TEXT,

			CHECK (status IN ('open', 'in-progress', 'resolved', 'escalated'))
		);

		CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);

		CREATE TABLE IF NOT EXISTS quality_gates (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL,
			type        TEXT NOT NULL,
			status      TEXT NOT NULL,
			criteria    TEXT NOT NULL,
			last_run    TEXT,
			next_run    TEXT,
			agent_id    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tasks (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			status          TEXT NOT NULL,
			priority        TEXT NOT NULL,
			estimated_hours REAL NOT NULL DEFAULT 0,
			actual_hours    REAL NOT NULL DEFAULT 0,
			dependencies    TEXT,
			blockers        TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			due_date        TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id);

		CREATE TABLE IF NOT EXISTS agent_progress (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_progress_agent ON agent_progress(agent_id, created_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString returns nil for empty strings so the column stores NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveMessage inserts a new message
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `
		INSERT INTO messages (id, from_agent, to_agent, content, priority, type, timestamp, is_read, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.From, msg.To, msg.Content, string(msg.Priority), string(msg.Type),
		formatTime(msg.Timestamp), msg.Read, metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// UpdateMessage rewrites the mutable fields of a stored message
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = ?, metadata = ? WHERE id = ?`,
		msg.Read, metadata, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return requireRow(result)
}

// GetMessagesForAgent returns messages sent to or by the agent, newest first
func (s *SQLiteStore) GetMessagesForAgent(ctx context.Context, agentID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, from_agent, to_agent, content, priority, type, timestamp, is_read, metadata
		FROM messages
		WHERE to_agent = ? OR from_agent = ?
		ORDER BY timestamp DESC, id DESC
	`, agentID, agentID)
}

// GetRecentMessages returns the newest messages across all agents
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMessages(ctx, `
		SELECT id, from_agent, to_agent, content, priority, type, timestamp, is_read, metadata
		FROM messages
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg       Message
			priority  string
			msgType   string
			timestamp string
			metadata  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Content, &priority, &msgType,
			&timestamp, &msg.Read, &metadata); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Priority = Priority(priority)
		msg.Type = MessageType(msgType)
		if msg.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// SaveQualityGate inserts or replaces a gate and its criteria
func (s *SQLiteStore) SaveQualityGate(ctx context.Context, gate *QualityGate) error {
	criteria, err := encodeJSON(gate.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}

	query := `
		INSERT INTO quality_gates (id, name, description, type, status, criteria, last_run, next_run, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			type = excluded.type,
			status = excluded.status,
			criteria = excluded.criteria,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			agent_id = excluded.agent_id
	`
	_, err = s.db.ExecContext(ctx, query,
		gate.ID, gate.Name, gate.Description, string(gate.Type), string(gate.Status), criteria,
		formatTime(gate.LastRun), formatTime(gate.NextRun), gate.AgentID,
	)
	if err != nil {
		return fmt.Errorf("saving quality gate: %w", err)
	}
	return nil
}

// GetQualityGate retrieves a gate by ID
func (s *SQLiteStore) GetQualityGate(ctx context.Context, id string) (*QualityGate, error) {
	var (
		gate     QualityGate
		gateType string
		status   string
		criteria string
		lastRun  sql.NullString
		nextRun  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, type, status, criteria, last_run, next_run, agent_id
		FROM quality_gates WHERE id = ?
	`, id).Scan(&gate.ID, &gate.Name, &gate.Description, &gateType, &status, &criteria,
		&lastRun, &nextRun, &gate.AgentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying quality gate: %w", err)
	}

	gate.Type = GateType(gateType)
	gate.Status = GateStatus(status)
	if err := json.Unmarshal([]byte(criteria), &gate.Criteria); err != nil {
		return nil, fmt.Errorf("decoding criteria: %w", err)
	}
	if t, err := parseTimePtr(lastRun); err != nil {
		return nil, err
	} else if t != nil {
		gate.LastRun = *t
	}
	if t, err := parseTimePtr(nextRun); err != nil {
		return nil, err
	} else if t != nil {
		gate.NextRun = *t
	}
	return &gate, nil
}

// SaveConflict inserts a new conflict
func (s *SQLiteStore) SaveConflict(ctx context.Context, c *Conflict) error {
	agents, err := encodeJSON(c.Agents)
	if err != nil {
		return fmt.Errorf("encoding agents: %w", err)
	}

	query := `
		INSERT INTO conflicts (id, type, description, severity, agents, status, created_at, resolved_at, resolution, escalated_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, string(c.Type), c.Description, string(c.Severity), agents, string(c.Status),
		formatTime(c.CreatedAt), formatTimePtr(c.ResolvedAt), nullString(c.Resolution), nullString(c.EscalatedTo),
	)
	if err != nil {
		return fmt.Errorf("inserting conflict: %w", err)
	}
	return nil
}

// UpdateConflict rewrites the lifecycle fields of a stored conflict
func (s *SQLiteStore) UpdateConflict(ctx context.Context, c *Conflict) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conflicts
		SET status = ?, resolved_at = ?, resolution = ?, escalated_to = ?
		WHERE id = ?
	`, string(c.Status), formatTimePtr(c.ResolvedAt), nullString(c.Resolution), nullString(c.EscalatedTo), c.ID)
	if err != nil {
		return fmt.Errorf("updating conflict: %w", err)
	}
	return requireRow(result)
}

// GetConflict retrieves a conflict by ID
func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	var (
		c           Conflict
		cType       string
		severity    string
		agents      string
		status      string
		createdAt   string
		resolvedAt  sql.NullString
		resolution  sql.NullString
		escalatedTo sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, description, severity, agents, status, created_at, resolved_at, resolution, escalated_to
		FROM conflicts WHERE id = ?
	`, id).Scan(&c.ID, &cType, &c.Description, &severity, &agents, &status, &createdAt,
		&resolvedAt, &resolution, &escalatedTo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conflict: %w", err)
	}

	c.Type = ConflictType(cType)
	c.Severity = Severity(severity)
	c.Status = ConflictStatus(status)
	c.Resolution = resolution.String
	c.EscalatedTo = escalatedTo.String
	if err := json.Unmarshal([]byte(agents), &c.Agents); err != nil {
		return nil, fmt.Errorf("decoding agents: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveTask inserts a new task
func (s *SQLiteStore) SaveTask(ctx context.Context, task *Task) error {
	deps, err := encodeJSON(task.Dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}
	blockers, err := encodeJSON(task.Blockers)
	if err != nil {
		return fmt.Errorf("encoding blockers: %w", err)
	}

	query := `
		INSERT INTO tasks (id, name, description, agent_id, status, priority, estimated_hours, actual_hours,
			dependencies, blockers, created_at, updated_at, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.Name, task.Description, task.AgentID, string(task.Status), string(task.Priority),
		task.EstimatedHours, task.ActualHours, deps, blockers,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt), formatTimePtr(task.DueDate),
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// UpdateTask rewrites the mutable fields of a stored task
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, actual_hours = ?, updated_at = ? WHERE id = ?
	`, string(task.Status), task.ActualHours, formatTime(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return requireRow(result)
}

// GetTask retrieves a task by ID
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var (
		task      Task
		status    string
		priority  string
		deps      sql.NullString
		blockers  sql.NullString
		createdAt string
		updatedAt string
		dueDate   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, agent_id, status, priority, estimated_hours, actual_hours,
			dependencies, blockers, created_at, updated_at, due_date
		FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.Name, &task.Description, &task.AgentID, &status, &priority,
		&task.EstimatedHours, &task.ActualHours, &deps, &blockers, &createdAt, &updatedAt, &dueDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}

	task.Status = TaskStatus(status)
	task.Priority = Priority(priority)
	if deps.Valid {
		if err := json.Unmarshal([]byte(deps.String), &task.Dependencies); err != nil {
			return nil, fmt.Errorf("decoding dependencies: %w", err)
		}
	}
	if blockers.Valid {
		if err := json.Unmarshal([]byte(blockers.String), &task.Blockers); err != nil {
			return nil, fmt.Errorf("decoding blockers: %w", err)
		}
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if task.DueDate, err = parseTimePtr(dueDate); err != nil {
		return nil, err
	}
	return &task, nil
}

// SaveProgress appends a progress report to the log
func (s *SQLiteStore) SaveProgress(ctx context.Context, entry *ProgressEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_progress (id, agent_id, payload, created_at) VALUES (?, ?, ?, ?)
	`, entry.ID, entry.AgentID, string(entry.Payload), formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting progress: %w", err)
	}
	return nil
}

// ListProgress returns an agent's progress log, newest first
func (s *SQLiteStore) ListProgress(ctx context.Context, agentID string, limit int) ([]*ProgressEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, payload, created_at FROM agent_progress
		WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying progress: %w", err)
	}
	defer rows.Close()

	var entries []*ProgressEntry
	for rows.Next() {
		var (
			entry     ProgressEntry
			payload   string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.AgentID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress: %w", err)
	}
	return entries, nil
}

// requireRow maps a zero-row update to ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

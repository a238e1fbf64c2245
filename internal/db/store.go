package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultListLimit bounds list queries without an explicit limit.
const DefaultListLimit = 100

// Store wraps the journal database.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Command is one journaled dispatcher call.
type Command struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Command    string    `json:"command"`
	Payload    string    `json:"payload,omitempty"`
	OK         bool      `json:"ok"`
	Kind       string    `json:"kind,omitempty"`
	Log        string    `json:"log,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// InsertCommand appends c to the journal and returns its id.
func (s *Store) InsertCommand(ctx context.Context, c Command) (int64, error) {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (session_id, command, payload, ok, kind, log, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Command, nullString(c.Payload), c.OK, nullString(c.Kind),
		nullString(c.Log), nullString(c.Error), c.DurationMs, created.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert command: %w", err)
	}
	return res.LastInsertId()
}

// ListCommandsParams filters ListCommands. An empty SessionID matches all sessions.
type ListCommandsParams struct {
	SessionID string
	Limit     int
}

// ListCommands returns the newest commands first.
func (s *Store) ListCommands(ctx context.Context, p ListCommandsParams) ([]Command, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, command, payload, ok, kind, log, error, duration_ms, created_at
		FROM commands
		WHERE (? = '' OR session_id = ?)
		ORDER BY id DESC
		LIMIT ?`, p.SessionID, p.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var (
			c                       Command
			payload, kind, log, msg sql.NullString
			created                 int64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Command, &payload, &c.OK, &kind, &log, &msg, &c.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		c.Payload = payload.String
		c.Kind = kind.String
		c.Log = log.String
		c.Error = msg.String
		c.CreatedAt = time.UnixMilli(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertErrorLogParams is one error_logs row.
type InsertErrorLogParams struct {
	Level      string
	Module     string
	Message    string
	Stacktrace sql.NullString
	Context    sql.NullString
}

func (s *Store) InsertErrorLog(ctx context.Context, p InsertErrorLogParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_logs (level, module, message, stacktrace, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Level, p.Module, p.Message, p.Stacktrace, p.Context, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

// ErrorLog is a recorded error or panic.
type ErrorLog struct {
	ID         int64     `json:"id"`
	Level      string    `json:"level"`
	Module     string    `json:"module"`
	Message    string    `json:"message"`
	Stacktrace string    `json:"stacktrace,omitempty"`
	Context    string    `json:"context,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ListErrorLogs returns the newest entries first.
func (s *Store) ListErrorLogs(ctx context.Context, limit int) ([]ErrorLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, module, message, stacktrace, context, created_at
		FROM error_logs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list error logs: %w", err)
	}
	defer rows.Close()

	var out []ErrorLog
	for rows.Next() {
		var (
			e            ErrorLog
			stack, extra sql.NullString
			created      int64
		)
		if err := rows.Scan(&e.ID, &e.Level, &e.Module, &e.Message, &stack, &extra, &created); err != nil {
			return nil, fmt.Errorf("scan error log: %w", err)
		}
		e.Stacktrace = stack.String
		e.Context = extra.String
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ABOUTME: SQLite implementation of the call log using modernc.org/sqlite.
// ABOUTME: Creates the schema on open and stores one row per tool execution.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements CallLog using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the database at path, creating parent directories
// and the schema if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == MemoryPath {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_calls (
			call_id     TEXT PRIMARY KEY,
			request_id  TEXT NOT NULL,
			domain      TEXT NOT NULL,
			data_id     TEXT NOT NULL,
			tool_name   TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			error       TEXT,
			duration_ms INTEGER NOT NULL,
			started_at  TEXT NOT NULL,

			CHECK (outcome IN ('success', 'tool_error', 'unavailable', 'timeout', 'cancelled', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_started ON tool_calls(started_at);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_domain ON tool_calls(domain, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordCall appends c to the log, filling in ID and StartedAt if unset.
func (s *SQLiteStore) RecordCall(ctx context.Context, c *Call) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_calls (call_id, request_id, domain, data_id, tool_name, outcome, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.RequestID,
		c.Domain,
		c.DataID,
		c.ToolName,
		string(c.Outcome),
		nullString(c.Error),
		c.Duration.Milliseconds(),
		c.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("recorded tool call",
		"id", c.ID,
		"request_id", c.RequestID,
		"tool_name", c.ToolName,
		"outcome", c.Outcome,
	)
	return nil
}

const listCallsQuery = `
	SELECT call_id, request_id, domain, data_id, tool_name, outcome, error, duration_ms, started_at
	FROM tool_calls
	WHERE (? IS NULL OR domain = ?)
	  AND (? IS NULL OR outcome = ?)
	  AND (? IS NULL OR started_at >= ?)
	ORDER BY started_at DESC
	LIMIT ?
`

// ListCalls returns calls matching f, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, f CallFilter) ([]Call, error) {
	var outcome, since *string
	if f.Outcome != nil {
		o := string(*f.Outcome)
		outcome = &o
	}
	if f.Since != nil {
		ts := f.Since.UTC().Format(timeLayout)
		since = &ts
	}

	rows, err := s.db.QueryContext(ctx, listCallsQuery,
		f.Domain, f.Domain,
		outcome, outcome,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := []Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}
	return calls, nil
}

func scanCall(scanner interface{ Scan(dest ...any) error }) (Call, error) {
	var c Call
	var outcome, startedAt string
	var errText sql.NullString
	var durationMS int64

	if err := scanner.Scan(
		&c.ID,
		&c.RequestID,
		&c.Domain,
		&c.DataID,
		&c.ToolName,
		&outcome,
		&errText,
		&durationMS,
		&startedAt,
	); err != nil {
		return c, fmt.Errorf("scanning tool call: %w", err)
	}

	c.Outcome = Outcome(outcome)
	c.Error = errText.String
	c.Duration = time.Duration(durationMS) * time.Millisecond

	var err error
	c.StartedAt, err = time.Parse(timeLayout, startedAt)
	if err != nil {
		return c, fmt.Errorf("parsing started_at: %w", err)
	}
	return c, nil
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

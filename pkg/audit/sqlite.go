package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists audit records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and creates if needed) the audit database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			call_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT,
			decision TEXT NOT NULL,
			error_kind TEXT,
			summary TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_records(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append inserts a record.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	var args []byte
	if rec.Arguments != nil {
		var err error
		args, err = json.Marshal(rec.Arguments)
		if err != nil {
			return fmt.Errorf("failed to encode arguments: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, ts, session_id, call_id, tool_name, arguments, decision, error_kind, summary, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.SessionID, rec.CallID, rec.ToolName,
		string(args), string(rec.Decision), rec.ErrorKind, rec.Summary, rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Query streams matching rows in append order. Rows are read one at a time as
// the caller iterates.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		query, params := buildQuery(f)

		rows, err := s.db.QueryContext(ctx, query, params...)
		if err != nil {
			yield(Record{}, fmt.Errorf("failed to query audit records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Record{}, fmt.Errorf("failed to read audit records: %w", err))
		}
	}
}

func buildQuery(f Filter) (string, []interface{}) {
	var (
		where  []string
		params []interface{}
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		params = append(params, f.SessionID)
	}
	if f.CallID != "" {
		where = append(where, "call_id = ?")
		params = append(params, f.CallID)
	}
	if f.ToolName != "" {
		where = append(where, "tool_name = ?")
		params = append(params, f.ToolName)
	}
	if f.Decision != "" {
		where = append(where, "decision = ?")
		params = append(params, string(f.Decision))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		params = append(params, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		params = append(params, f.Until.UnixNano())
	}

	var b strings.Builder
	b.WriteString("SELECT id, ts, session_id, call_id, tool_name, arguments, decision, error_kind, summary, duration_ms FROM audit_records")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq ASC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, f.Limit)
	}

	return b.String(), params
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec       Record
		ts        int64
		args      sql.NullString
		decision  string
		errorKind sql.NullString
		summary   sql.NullString
	)
	if err := rows.Scan(&rec.ID, &ts, &rec.SessionID, &rec.CallID, &rec.ToolName,
		&args, &decision, &errorKind, &summary, &rec.DurationMs); err != nil {
		return Record{}, fmt.Errorf("failed to scan audit record: %w", err)
	}

	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.Decision = Decision(decision)
	rec.ErrorKind = errorKind.String
	rec.Summary = summary.String
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &rec.Arguments); err != nil {
			return Record{}, fmt.Errorf("failed to decode arguments: %w", err)
		}
	}

	return rec, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

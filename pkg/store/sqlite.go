package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/conductor-ai/conductor/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	input        TEXT NOT NULL,
	result       TEXT,
	error        TEXT,
	submitted_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_executions_submitted_at ON executions(submitted_at);
`

// SQLiteStore persists records in a local SQLite database so queued results
// survive a daemon restart.
type SQLiteStore struct {
	db    *sql.DB
	retry *apperrors.RetryPolicy
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "open result store")
	}

	// WAL lets reads proceed while a write is in flight.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "enable WAL mode")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "initialize result store schema")
	}

	return &SQLiteStore{
		db: db,
		retry: &apperrors.RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2.0,
			Jitter:       true,
			RetryIf:      isBusy,
		},
	}, nil
}

// isBusy matches the lock-contention errors the sqlite3 driver surfaces.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// Put implements ResultStore.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	return apperrors.Do(ctx, s.retry, func() error {
		var completed interface{}
		if !rec.CompletedAt.IsZero() {
			completed = rec.CompletedAt
		}
		var result interface{}
		if len(rec.Result) > 0 {
			result = string(rec.Result)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO executions (id, status, input, result, error, submitted_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				result = excluded.result,
				error = excluded.error,
				completed_at = excluded.completed_at`,
			rec.ID, string(rec.Status), rec.Input, result, rec.Error, rec.SubmittedAt, completed)
		return err
	})
}

// Get implements ResultStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, input, result, error, submitted_at, completed_at
		FROM executions WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "read execution record")
	}
	return rec, nil
}

// List implements ResultStore.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, status, input, result, error, submitted_at, completed_at
		FROM executions ORDER BY submitted_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInternal, "list execution records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInternal, "scan execution record")
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteOlderThan implements ResultStore.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var removed int64
	err := apperrors.Do(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM executions
			WHERE submitted_at < ? AND status NOT IN (?, ?)`,
			cutoff, string(StatusPending), string(StatusRunning))
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindInternal, "prune execution records")
	}
	return int(removed), nil
}

// Close implements ResultStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		status    string
		result    sql.NullString
		errMsg    sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &status, &rec.Input, &result, &errMsg, &rec.SubmittedAt, &completed); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if completed.Valid {
		rec.CompletedAt = completed.Time
	}
	return &rec, nil
}

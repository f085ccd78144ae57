// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/storage/sqlitemigrate"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/internal/store/sqlite/migrations"
	"github.com/zerofinancial/relay/pkg/id"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed record persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens the database file at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps every statement serialized.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const selectColumns = `id, message, level, logger, file, function, line, timestamp, context, retry_count, task_id, created_at`

func (s *Store) Insert(ctx context.Context, rec record.LogRecord) error {
	var ctxJSON sql.NullString
	if len(rec.Payload.Context) > 0 {
		b, err := json.Marshal(rec.Payload.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		ctxJSON = sql.NullString{String: string(b), Valid: true}
	}
	p := rec.Payload
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO log_records (
	id,
	message,
	level,
	logger,
	file,
	function,
	line,
	timestamp,
	context,
	retry_count,
	task_id,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ID.String(),
		p.Message,
		p.Level,
		p.Logger,
		p.File,
		p.Function,
		p.Line,
		unixNanos(p.Timestamp),
		ctxJSON,
		rec.RetryCount,
		nullTask(rec.TaskID),
		rec.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert %s: %w", rec.ID, store.ErrExists)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, recID id.ID) (record.LogRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM log_records WHERE id = ?`, recID.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.LogRecord{}, fmt.Errorf("%s: %w", recID, store.ErrNotFound)
	}
	return rec, err
}

func (s *Store) SetTask(ctx context.Context, recID id.ID, taskID string) (record.LogRecord, error) {
	return s.updateReturning(ctx, recID, `UPDATE log_records SET task_id = ? WHERE id = ?`, nullTask(taskID), recID.String())
}

func (s *Store) RecordFailure(ctx context.Context, recID id.ID) (record.LogRecord, error) {
	return s.updateReturning(ctx, recID, `UPDATE log_records SET task_id = NULL, retry_count = retry_count + 1 WHERE id = ?`, recID.String())
}

// updateReturning runs one UPDATE and re-reads the row in the same
// transaction.
func (s *Store) updateReturning(ctx context.Context, recID id.ID, query string, args ...any) (record.LogRecord, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return record.LogRecord{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return record.LogRecord{}, fmt.Errorf("update record: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return record.LogRecord{}, err
	} else if n == 0 {
		return record.LogRecord{}, fmt.Errorf("%s: %w", recID, store.ErrNotFound)
	}
	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM log_records WHERE id = ?`, recID.String()))
	if err != nil {
		return record.LogRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return record.LogRecord{}, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, recID id.ID) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM log_records WHERE id = ?`, recID.String()); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM log_records`); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) ([]record.LogRecord, error) {
	return s.list(ctx, `WHERE task_id IS NULL`)
}

func (s *Store) Submitted(ctx context.Context) ([]record.LogRecord, error) {
	return s.list(ctx, `WHERE task_id IS NOT NULL`)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) Oldest(ctx context.Context) (record.LogRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM log_records ORDER BY created_at, id LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.LogRecord{}, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) list(ctx context.Context, where string) ([]record.LogRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+selectColumns+` FROM log_records `+where+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []record.LogRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (record.LogRecord, error) {
	var (
		rawID     string
		p         record.Payload
		tsNanos   int64
		ctxJSON   sql.NullString
		retries   int
		taskID    sql.NullString
		createdMs int64
	)
	if err := row.Scan(&rawID, &p.Message, &p.Level, &p.Logger, &p.File, &p.Function, &p.Line, &tsNanos, &ctxJSON, &retries, &taskID, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.LogRecord{}, err
		}
		return record.LogRecord{}, fmt.Errorf("scan record: %w", err)
	}
	recID, err := id.Parse(rawID)
	if err != nil {
		return record.LogRecord{}, fmt.Errorf("parse record id: %w", err)
	}
	if tsNanos != 0 {
		p.Timestamp = time.Unix(0, tsNanos).UTC()
	}
	if ctxJSON.Valid {
		if p.Context, err = record.DecodeContext([]byte(ctxJSON.String)); err != nil {
			return record.LogRecord{}, err
		}
	}
	return record.LogRecord{
		ID:         recID,
		Payload:    p,
		TaskID:     taskID.String,
		RetryCount: retries,
		CreatedAt:  time.UnixMilli(createdMs).UTC(),
	}, nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nullTask(taskID string) sql.NullString {
	return sql.NullString{String: taskID, Valid: taskID != ""}
}

func isConstraint(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

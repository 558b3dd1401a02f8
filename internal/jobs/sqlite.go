package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode    = 5
	busyRetryAttempts = 5
	busyRetryDelay    = 10 * time.Millisecond
	busyRetryMaxDelay = 200 * time.Millisecond
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	input_ref           TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	document_type       TEXT NOT NULL DEFAULT 'auto',
	status              TEXT NOT NULL,
	progress_percentage INTEGER NOT NULL DEFAULT 0,
	current_stage       TEXT NOT NULL DEFAULT '',
	stage_description   TEXT NOT NULL DEFAULT '',
	stage_metadata      TEXT NOT NULL DEFAULT '{}',
	quality_report      TEXT,
	error_message       TEXT NOT NULL DEFAULT '',
	output_ref          TEXT NOT NULL DEFAULT '',
	cancel_requested    INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	started_at          TEXT,
	completed_at        TEXT,
	deleted_at          TEXT
);
CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status ON conversion_jobs(status);
CREATE INDEX IF NOT EXISTS idx_conversion_jobs_user ON conversion_jobs(user_id, created_at);
`

const sqliteColumns = `id, user_id, input_ref, title, document_type, status, progress_percentage,
	current_stage, stage_description, stage_metadata, quality_report, error_message, output_ref,
	cancel_requested, created_at, updated_at, started_at, completed_at, deleted_at`

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the job database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time keeps read-modify-write transactions serial.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Attempts(busyRetryAttempts),
		retry.Delay(busyRetryDelay),
		retry.MaxDelay(busyRetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isSQLiteBusy),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (s *SQLiteStore) Create(ctx context.Context, job *ConversionJob) error {
	enc, err := encodeJob(job)
	if err != nil {
		return err
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO conversion_jobs (`+sqliteColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sqliteArgs(job, enc)...)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*ConversionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM conversion_jobs WHERE id = ? AND deleted_at IS NULL`, id)
	return scanSQLiteJob(row)
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*ConversionJob, error) {
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM conversion_jobs
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []*ConversionJob{}
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*ConversionJob) error) (*ConversionJob, error) {
	var updated *ConversionJob
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		j, err := scanSQLiteJob(tx.QueryRowContext(ctx,
			`SELECT `+sqliteColumns+` FROM conversion_jobs WHERE id = ? AND deleted_at IS NULL`, id))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if err := fn(j); err != nil {
			return retry.Unrecoverable(err)
		}
		j.UpdatedAt = utcNow()

		enc, err := encodeJob(j)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		args := sqliteArgs(j, enc)
		if _, err := tx.ExecContext(ctx, `UPDATE conversion_jobs SET
			user_id = ?, input_ref = ?, title = ?, document_type = ?, status = ?, progress_percentage = ?,
			current_stage = ?, stage_description = ?, stage_metadata = ?, quality_report = ?, error_message = ?,
			output_ref = ?, cancel_requested = ?, created_at = ?, updated_at = ?, started_at = ?,
			completed_at = ?, deleted_at = ?
			WHERE id = ?`, append(args[1:], j.ID)...); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, id string) error {
	now := formatTime(utcNow())
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE conversion_jobs SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
			now, now, id)
		if err != nil {
			return fmt.Errorf("soft delete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return retry.Unrecoverable(ErrNotFound)
		}
		return nil
	})
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func sqliteArgs(j *ConversionJob, enc encodedJob) []any {
	var report any
	if enc.report != nil {
		report = string(enc.report)
	}
	cancel := 0
	if j.CancelRequested {
		cancel = 1
	}
	return []any{
		j.ID, j.UserID, j.InputRef, j.Title, j.DocumentType, string(j.Status), j.ProgressPercentage,
		j.CurrentStage, j.StageDescription, string(enc.metadata), report, j.ErrorMessage, j.OutputRef,
		cancel, formatTime(j.CreatedAt), formatTime(j.UpdatedAt), formatTimePtr(j.StartedAt),
		formatTimePtr(j.CompletedAt), formatTimePtr(j.DeletedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*ConversionJob, error) {
	var (
		j                                 ConversionJob
		status, metadata, created, update string
		report, started, completed, del   sql.NullString
		cancel                            int
	)
	err := row.Scan(&j.ID, &j.UserID, &j.InputRef, &j.Title, &j.DocumentType, &status, &j.ProgressPercentage,
		&j.CurrentStage, &j.StageDescription, &metadata, &report, &j.ErrorMessage, &j.OutputRef,
		&cancel, &created, &update, &started, &completed, &del)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = Status(status)
	j.CancelRequested = cancel != 0
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(update); err != nil {
		return nil, err
	}
	for _, ts := range []struct {
		src sql.NullString
		dst **time.Time
	}{{started, &j.StartedAt}, {completed, &j.CompletedAt}, {del, &j.DeletedAt}} {
		if !ts.src.Valid {
			continue
		}
		t, err := parseTime(ts.src.String)
		if err != nil {
			return nil, err
		}
		*ts.dst = &t
	}

	var reportBytes []byte
	if report.Valid {
		reportBytes = []byte(report.String)
	}
	if err := decodeJSONColumns(&j, []byte(metadata), reportBytes); err != nil {
		return nil, err
	}
	return &j, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

var _ Store = (*SQLiteStore)(nil)

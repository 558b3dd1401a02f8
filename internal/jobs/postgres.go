package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
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
	stage_metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	quality_report      JSONB,
	error_message       TEXT NOT NULL DEFAULT '',
	output_ref          TEXT NOT NULL DEFAULT '',
	cancel_requested    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	deleted_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status ON conversion_jobs(status);
CREATE INDEX IF NOT EXISTS idx_conversion_jobs_user ON conversion_jobs(user_id, created_at DESC);
`

const postgresColumns = `id, user_id, input_ref, title, document_type, status, progress_percentage,
	current_stage, stage_description, stage_metadata, quality_report, error_message, output_ref,
	cancel_requested, created_at, updated_at, started_at, completed_at, deleted_at`

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool, verifies connectivity and ensures the schema.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *ConversionJob) error {
	enc, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO conversion_jobs (id, user_id, input_ref, title, document_type,
		status, progress_percentage, current_stage, stage_description, stage_metadata, quality_report,
		error_message, output_ref, cancel_requested, created_at, updated_at, started_at, completed_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		postgresArgs(job, enc)...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ConversionJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM conversion_jobs WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanPostgresJob(row)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*ConversionJob, error) {
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM conversion_jobs
		WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		postgresColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []*ConversionJob{}
	for rows.Next() {
		j, err := scanPostgresJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*ConversionJob) error) (*ConversionJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := scanPostgresJob(tx.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM conversion_jobs WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = utcNow()

	enc, err := encodeJob(j)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversion_jobs SET
		user_id = $2, input_ref = $3, title = $4, document_type = $5, status = $6, progress_percentage = $7,
		current_stage = $8, stage_description = $9, stage_metadata = $10, quality_report = $11,
		error_message = $12, output_ref = $13, cancel_requested = $14, created_at = $15, updated_at = $16,
		started_at = $17, completed_at = $18, deleted_at = $19
		WHERE id = $1`, postgresArgs(j, enc)...); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	now := utcNow()
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversion_jobs SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, now)
	if err != nil {
		return fmt.Errorf("soft delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func postgresArgs(j *ConversionJob, enc encodedJob) []any {
	var report any
	if enc.report != nil {
		report = enc.report
	}
	return []any{
		j.ID, j.UserID, j.InputRef, j.Title, j.DocumentType, string(j.Status), j.ProgressPercentage,
		j.CurrentStage, j.StageDescription, enc.metadata, report, j.ErrorMessage, j.OutputRef,
		j.CancelRequested, j.CreatedAt, j.UpdatedAt, j.StartedAt, j.CompletedAt, j.DeletedAt,
	}
}

func scanPostgresJob(row pgx.Row) (*ConversionJob, error) {
	var (
		j                ConversionJob
		status           string
		metadata, report []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &j.InputRef, &j.Title, &j.DocumentType, &status, &j.ProgressPercentage,
		&j.CurrentStage, &j.StageDescription, &metadata, &report, &j.ErrorMessage, &j.OutputRef,
		&j.CancelRequested, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = Status(status)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if err := decodeJSONColumns(&j, metadata, report); err != nil {
		return nil, err
	}
	return &j, nil
}

var _ Store = (*PostgresStore)(nil)

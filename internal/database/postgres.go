// Package database implements the document store for ingestion jobs and
// candidate records: PostgreSQL through pgx for production and an in-memory
// store for development and tests.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool parses cfg.URL, applies pool sizing and verifies the connection.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Postgres stores jobs in ingestion_jobs and records in candidates.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Postgres)(nil)

// NewPostgres creates a store over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var candidateColumns = []string{
	"id", "name", "email", "phone", "linkedin_url", "job_title", "company",
	"location", "city", "state", "country", "experience", "skills", "summary",
	"source_file", "ingestion_job_id", "is_deleted",
}

var insertCandidateSQL = fmt.Sprintf(
	"INSERT INTO candidates (%s) VALUES (%s)",
	strings.Join(candidateColumns, ", "),
	placeholders(len(candidateColumns)),
)

func placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(p, ", ")
}

func candidateRow(r core.Record) []any {
	c := r.Candidate
	return []any{
		uuid.New(), c.Name, c.Email, c.Phone, c.LinkedInURL, c.JobTitle, c.Company,
		c.Location, c.City, c.State, c.Country, c.Experience, c.Skills, c.Summary,
		r.SourceFile, r.IngestionJobID, r.IsDeleted,
	}
}

// InsertRecords writes records in one transaction. The whole batch is first
// sent with COPY; if COPY is rejected the rows are inserted one at a time
// under savepoints so a bad row only fails itself. Transient failures roll
// back everything and are returned for the caller to retry.
func (p *Postgres) InsertRecords(ctx context.Context, records []core.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(records))
	for i := range records {
		rows[i] = candidateRow(records[i])
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SAVEPOINT bulk"); err != nil {
		return 0, classify(err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"candidates"}, candidateColumns, pgx.CopyFromRows(rows))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return 0, classify(err)
		}
		return int(n), nil
	}
	if cerr := classify(err); core.IsTransient(cerr) {
		return 0, cerr
	}

	slog.Debug("copy rejected, inserting rows individually", "rows", len(rows), "error", err)
	if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT bulk"); err != nil {
		return 0, classify(err)
	}

	inserted, failed := 0, 0
	var lastErr error
	for _, row := range rows {
		if _, err := tx.Exec(ctx, "SAVEPOINT row"); err != nil {
			return 0, classify(err)
		}
		if _, err := tx.Exec(ctx, insertCandidateSQL, row...); err != nil {
			cerr := classify(err)
			if core.IsTransient(cerr) {
				return 0, cerr
			}
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT row")
			failed++
			lastErr = cerr
			continue
		}
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT row")
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	if failed > 0 {
		return inserted, &core.BulkWriteError{Inserted: inserted, Failed: failed, Err: lastErr}
	}
	return inserted, nil
}

// SoftDeleteRecords flags a job's records as deleted.
func (p *Postgres) SoftDeleteRecords(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE candidates SET is_deleted = TRUE WHERE ingestion_job_id = $1 AND NOT is_deleted`, jobID)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// PurgeRecords removes a job's records.
func (p *Postgres) PurgeRecords(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM candidates WHERE ingestion_job_id = $1`, jobID)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

const jobColumns = `id, upload_id, file_name, storage_key, content_hash, status, mapping, headers,
	total_rows, success_rows, failed_rows, created_at, started_at, completed_at, error`

// CreateJob inserts a new job.
func (p *Postgres) CreateJob(ctx context.Context, job *core.Job) error {
	mapping, headers, err := encodeJSON(job)
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO ingestion_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.UploadID, job.FileName, job.StorageKey, job.ContentHash, string(job.Status),
		mapping, headers, job.TotalRows, job.SuccessRows, job.FailedRows,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.Error,
	)
	return classify(err)
}

// GetJob returns a job by id.
func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return job, nil
}

// FindJobByStorageKey returns the newest job for a stored file.
func (p *Postgres) FindJobByStorageKey(ctx context.Context, key string) (*core.Job, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs
		 WHERE storage_key = $1 ORDER BY created_at DESC LIMIT 1`, key)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: storage key %s", core.ErrJobNotFound, key)
	}
	if err != nil {
		return nil, classify(err)
	}
	return job, nil
}

// ListJobs returns up to limit jobs, newest first.
func (p *Postgres) ListJobs(ctx context.Context, limit int) ([]core.Job, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var jobs []core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return jobs, nil
}

// UpdateJob overwrites every mutable field of a job.
func (p *Postgres) UpdateJob(ctx context.Context, job *core.Job) error {
	mapping, headers, err := encodeJSON(job)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE ingestion_jobs SET
			upload_id = $2, file_name = $3, storage_key = $4, content_hash = $5, status = $6,
			mapping = $7, headers = $8, total_rows = $9, success_rows = $10, failed_rows = $11,
			started_at = $12, completed_at = $13, error = $14, updated_at = now()
		 WHERE id = $1`,
		job.ID, job.UploadID, job.FileName, job.StorageKey, job.ContentHash, string(job.Status),
		mapping, headers, job.TotalRows, job.SuccessRows, job.FailedRows,
		job.StartedAt, job.CompletedAt, job.Error,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, job.ID)
	}
	return nil
}

// UpdateProgress writes only the counters.
func (p *Postgres) UpdateProgress(ctx context.Context, id uuid.UUID, pr core.Progress) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE ingestion_jobs
		 SET total_rows = $2, success_rows = $3, failed_rows = $4, updated_at = now()
		 WHERE id = $1`,
		id, pr.TotalRows, pr.SuccessRows, pr.FailedRows,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	return nil
}

func encodeJSON(job *core.Job) (mapping, headers []byte, err error) {
	m := job.Mapping
	if m == nil {
		m = core.Mapping{}
	}
	h := job.Headers
	if h == nil {
		h = []string{}
	}
	if mapping, err = json.Marshal(m); err != nil {
		return nil, nil, fmt.Errorf("encode mapping: %w", err)
	}
	if headers, err = json.Marshal(h); err != nil {
		return nil, nil, fmt.Errorf("encode headers: %w", err)
	}
	return mapping, headers, nil
}

func scanJob(row pgx.Row) (*core.Job, error) {
	var (
		job              core.Job
		status           string
		mapping, headers []byte
	)
	err := row.Scan(
		&job.ID, &job.UploadID, &job.FileName, &job.StorageKey, &job.ContentHash, &status,
		&mapping, &headers, &job.TotalRows, &job.SuccessRows, &job.FailedRows,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Error,
	)
	if err != nil {
		return nil, err
	}
	job.Status = core.JobStatus(status)
	if err := json.Unmarshal(mapping, &job.Mapping); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if err := json.Unmarshal(headers, &job.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if len(job.Mapping) == 0 {
		job.Mapping = nil
	}
	return &job, nil
}

// classify tags PostgreSQL failures with the core error kinds the batch
// writer acts on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %w", core.ErrDuplicate, err)
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "53300", // too_many_connections
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "57P03": // cannot_connect_now
			return fmt.Errorf("%w: %w", core.ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", core.ErrTransient, err)
	}
	return err
}

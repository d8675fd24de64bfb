// Package postgres persists deployment jobs in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/repository"
)

const uniqueViolation = "23505"

const jobColumns = `id, platform, channel, status, artifact, parameters, progress, logs, result_locator, created_at, updated_at, completed_at`

// Repository implements repository.JobRepository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

var _ repository.JobRepository = (*Repository)(nil)

// CreateJob inserts a job.
func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	artifact, params, err := encodeJSON(job)
	if err != nil {
		return err
	}
	const query = `INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Platform,
		job.Channel,
		job.Status,
		artifact,
		params,
		job.Progress,
		logsOrEmpty(job.Logs),
		job.ResultLocator,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicateID
	}
	return err
}

// GetJob fetches a job by identifier.
func (r *Repository) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// MutateJob locks the row, applies fn and writes the result back in one transaction.
func (r *Repository) MutateJob(ctx context.Context, id string, fn repository.MutateFunc) (domain.Job, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Job{}, err
	}
	next, changed, err := repository.Apply(current, fn, r.now())
	if err != nil {
		return current, err
	}
	if !changed {
		return current, nil
	}

	const query = `UPDATE jobs
		SET status = $2,
			progress = $3,
			logs = $4,
			result_locator = $5,
			updated_at = $6,
			completed_at = $7
		WHERE id = $1`
	if _, err := tx.Exec(ctx, query,
		next.ID,
		next.Status,
		next.Progress,
		logsOrEmpty(next.Logs),
		next.ResultLocator,
		next.UpdatedAt,
		next.CompletedAt,
	); err != nil {
		return current, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return current, fmt.Errorf("commit job update: %w", err)
	}
	return next, nil
}

// AppendJobLog appends a line. Terminal jobs accept log lines but keep updated_at.
func (r *Repository) AppendJobLog(ctx context.Context, id, line string) (domain.Job, error) {
	const query = `UPDATE jobs
		SET logs = array_append(logs, $2),
			updated_at = CASE WHEN status IN ('completed', 'failed', 'cancelled') THEN updated_at ELSE $3 END
		WHERE id = $1
		RETURNING ` + jobColumns
	return scanJob(r.pool.QueryRow(ctx, query, id, line, r.now().UTC()))
}

// ListJobs returns jobs matching filter, newest first.
func (r *Repository) ListJobs(ctx context.Context, filter repository.JobFilter) ([]domain.Job, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Channel != "" {
		add("channel = $%d", filter.Channel)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.NonTerminal {
		clauses = append(clauses, "status NOT IN ('completed', 'failed', 'cancelled')")
	}
	if !filter.UpdatedBefore.IsZero() {
		add("updated_at < $%d", filter.UpdatedBefore)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job         domain.Job
		artifact    []byte
		params      []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Platform,
		&job.Channel,
		&job.Status,
		&artifact,
		&params,
		&job.Progress,
		&job.Logs,
		&job.ResultLocator,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, repository.ErrNotFound
		}
		return domain.Job{}, err
	}
	if len(artifact) > 0 {
		if err := json.Unmarshal(artifact, &job.Artifact); err != nil {
			return domain.Job{}, fmt.Errorf("decode artifact: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return domain.Job{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if completedAt.Valid {
		value := completedAt.Time.UTC()
		job.CompletedAt = &value
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

func encodeJSON(job *domain.Job) ([]byte, []byte, error) {
	artifact, err := json.Marshal(job.Artifact)
	if err != nil {
		return nil, nil, fmt.Errorf("encode artifact: %w", err)
	}
	params := job.Parameters
	if params == nil {
		params = domain.Parameters{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("encode parameters: %w", err)
	}
	return artifact, encoded, nil
}

func logsOrEmpty(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}

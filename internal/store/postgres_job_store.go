package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/fitroom/internal/domain"
	"github.com/dunamismax/fitroom/internal/fitting"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tryon_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	person_key TEXT NOT NULL,
	dress_key TEXT NOT NULL,
	options JSONB NOT NULL,
	result_key TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	parameters JSONB,
	fallback BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	ai_calls INTEGER NOT NULL,
	fallback BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, user_id, status, source_type, webhook_url, person_key, dress_key, options,
	result_key, description, parameters, fallback, error, created_at, updated_at
 FROM tryon_jobs
 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO tryon_jobs (id, user_id, status, source_type, webhook_url, person_key, dress_key, options, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.PersonKey,
		job.DressKey,
		optionsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var (
		job            domain.Job
		optionsJSON    []byte
		parametersJSON []byte
	)
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.PersonKey,
		&job.DressKey,
		&optionsJSON,
		&job.ResultKey,
		&job.Description,
		&parametersJSON,
		&job.Fallback,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job options: %w", err)
	}
	if len(parametersJSON) > 0 {
		var params fitting.Parameters
		if err := json.Unmarshal(parametersJSON, &params); err != nil {
			return domain.Job{}, false, fmt.Errorf("unmarshal job parameters: %w", err)
		}
		job.Parameters = &params
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id, "update job status",
		`UPDATE tryon_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, result domain.JobResult) (domain.Job, error) {
	parametersJSON, err := json.Marshal(result.Parameters)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job parameters: %w", err)
	}

	return s.exec(ctx, id, "complete job",
		`UPDATE tryon_jobs
		 SET status = $1, result_key = $2, description = $3, parameters = $4, fallback = $5, error = '', updated_at = $6
		 WHERE id = $7`,
		domain.JobStatusSucceeded, result.ResultKey, result.Description, parametersJSON, result.Fallback, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, reason string) (domain.Job, error) {
	return s.exec(ctx, id, "fail job",
		`UPDATE tryon_jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		domain.JobStatusFailed, reason, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) RecordUsage(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, pixels_processed, compute_time_ms, ai_calls, fallback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.JobID,
		usage.PixelsProcessed,
		usage.ComputeTimeMS,
		usage.AICalls,
		usage.Fallback,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) exec(ctx context.Context, id, op, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

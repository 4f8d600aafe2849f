package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/config"
)

// Repository stores per-run bookkeeping only. Digest content is never
// persisted; every run recomputes the full window from scratch.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, err
	}
	r := &Repository{pool: pool, log: log}
	if err := r.ensureSchema(ctx2); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() { r.pool.Close() }

func (r *Repository) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS job_runs (
			id bigserial PRIMARY KEY,
			run_id uuid NOT NULL,
			started_at timestamptz NOT NULL DEFAULT now(),
			finished_at timestamptz,
			updates int,
			success bool NOT NULL DEFAULT false,
			error text
		)`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

// TryAdvisoryLock serializes digest runs across replicas.
func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

func (r *Repository) StartJobRun(ctx context.Context, runID string) (int64, error) {
	const q = `INSERT INTO job_runs(run_id, started_at, success) VALUES($1, now(), false) RETURNING id`
	var id int64
	if err := r.pool.QueryRow(ctx, q, runID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, updates int, success bool, errMsg string) error {
	const q = `UPDATE job_runs SET finished_at=now(), updates=$2, success=$3, error=$4 WHERE id=$1`
	_, err := r.pool.Exec(ctx, q, id, updates, success, errMsg)
	return err
}

type LastRun struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Updates    int        `json:"updates"`
	Success    bool       `json:"success"`
	Error      string     `json:"error"`
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT run_id::text, started_at, finished_at,
		coalesce(updates,0), coalesce(success,false), coalesce(error,'')
		FROM job_runs ORDER BY id DESC LIMIT 1`
	lr := &LastRun{}
	err := r.pool.QueryRow(ctx, q).Scan(&lr.RunID, &lr.StartedAt, &lr.FinishedAt, &lr.Updates, &lr.Success, &lr.Error)
	if err != nil {
		return nil, err
	}
	return lr, nil
}

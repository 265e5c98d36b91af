package storage

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// JobExecutionRepository implements scheduler.ExecutionStore against
// PostgreSQL. Registering a job's own row (scheduled_jobs) is handled by
// Core at construction time, not here — this repository only concerns
// itself with the append-only execution history.
type JobExecutionRepository struct {
	db *sqlx.DB
}

func NewJobExecutionRepository(db *sqlx.DB) *JobExecutionRepository {
	return &JobExecutionRepository{db: db}
}

func (r *JobExecutionRepository) RecordExecution(ctx context.Context, exec model.JobExecution) error {
	var finishedAt sql.NullTime
	if exec.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *exec.FinishedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_executions (job_name, started_at, finished_at, status, duration_ms, error, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		exec.JobName, exec.StartedAt, finishedAt, int(exec.Status), exec.DurationMs, exec.Error, int(exec.TriggeredBy))
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.recordExecution", err)
	}
	return nil
}

func (r *JobExecutionRepository) History(ctx context.Context, jobName string, limit int) ([]model.JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_name, started_at, finished_at, status, duration_ms, error, triggered_by
		FROM job_executions
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT $2`, jobName, limit)
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.history", err)
	}
	defer rows.Close()

	var out []model.JobExecution
	for rows.Next() {
		var (
			exec       model.JobExecution
			status     int
			triggeredB int
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&exec.ID, &exec.JobName, &exec.StartedAt, &finishedAt, &status, &exec.DurationMs, &exec.Error, &triggeredB); err != nil {
			return nil, baluerr.Wrap(baluerr.KindIO, "storage.history", err)
		}
		exec.Status = model.JobStatus(status)
		exec.TriggeredBy = model.TriggeredBy(triggeredB)
		if finishedAt.Valid {
			t := finishedAt.Time
			exec.FinishedAt = &t
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.history", err)
	}
	return out, nil
}

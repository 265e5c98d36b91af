package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/model"
)

func newMockJobExecRepo(t *testing.T) (*JobExecutionRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "pgx")
	return NewJobExecutionRepository(db), mock
}

func TestRecordExecutionInsertsRow(t *testing.T) {
	repo, mock := newMockJobExecRepo(t)
	finished := time.Now()
	exec := model.JobExecution{
		JobName: "raid-scrub", StartedAt: finished.Add(-time.Minute), FinishedAt: &finished,
		Status: model.JobStatusSuccess, DurationMs: 60000, TriggeredBy: model.TriggeredBySchedule,
	}
	mock.ExpectExec(`INSERT INTO job_executions`).
		WithArgs(exec.JobName, exec.StartedAt, finished, int(exec.Status), exec.DurationMs, exec.Error, int(exec.TriggeredBy)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.RecordExecution(context.Background(), exec); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHistoryReturnsMostRecentFirst(t *testing.T) {
	repo, mock := newMockJobExecRepo(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM job_executions`).
		WithArgs("raid-scrub", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_name", "started_at", "finished_at", "status", "duration_ms", "error", "triggered_by"}).
			AddRow(int64(2), "raid-scrub", now, now, int(model.JobStatusSuccess), int64(500), "", int(model.TriggeredBySchedule)).
			AddRow(int64(1), "raid-scrub", now.Add(-time.Hour), now.Add(-time.Hour), int(model.JobStatusFailure), int64(100), "timeout", int(model.TriggeredByRetry)))

	execs, err := repo.History(context.Background(), "raid-scrub", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(execs) != 2 || execs[0].ID != 2 {
		t.Fatalf("got %+v", execs)
	}
}

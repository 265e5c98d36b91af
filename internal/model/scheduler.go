package model

import "time"

// TriggerKind distinguishes how a ScheduledJob's next fire time is computed.
type TriggerKind int

const (
	TriggerInterval TriggerKind = iota
	TriggerCron
	TriggerDaily
)

// Trigger describes when a job should next run. Exactly the fields for
// its Kind are meaningful; the rest are zero.
type Trigger struct {
	Kind TriggerKind

	// TriggerInterval
	IntervalSeconds int64

	// TriggerCron — five-field, minute precision (m h dom mon dow).
	CronExpr string

	// TriggerDaily
	DailyHour   int
	DailyMinute int
	DailyTZ     string
}

// RetryPolicy bounds how a failing job's retries are paced.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffSeconds    int64 // base; actual backoff is base * 2^(attempt-1), capped
	MaxBackoffSeconds int64
}

// JobStatus is the outcome of the job's most recent completed execution.
type JobStatus int

const (
	JobStatusNone JobStatus = iota
	JobStatusSuccess
	JobStatusFailure
	JobStatusCancelled
	JobStatusRunning
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusSuccess:
		return "success"
	case JobStatusFailure:
		return "failure"
	case JobStatusCancelled:
		return "cancelled"
	case JobStatusRunning:
		return "running"
	default:
		return "none"
	}
}

// ScheduledJob is a named background job registered with the scheduler.
type ScheduledJob struct {
	Name                string
	Trigger             Trigger
	Enabled             bool
	LastRunAt           *time.Time
	LastStatus          JobStatus
	LastErr             string
	ConsecutiveFailures int
	RetryPolicy         RetryPolicy
}

// TriggeredBy identifies what caused a JobExecution to start.
type TriggeredBy int

const (
	TriggeredBySchedule TriggeredBy = iota
	TriggeredByManual
	TriggeredByRetry
)

func (t TriggeredBy) String() string {
	switch t {
	case TriggeredByManual:
		return "manual"
	case TriggeredByRetry:
		return "retry"
	default:
		return "schedule"
	}
}

// JobExecution is one append-only record of a job run.
type JobExecution struct {
	ID          int64
	JobName     string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      JobStatus
	DurationMs  int64
	Error       string
	TriggeredBy TriggeredBy
}

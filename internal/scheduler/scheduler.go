// Package scheduler implements the Unified Scheduler (C8): a registry
// of named background jobs driven by interval/cron/daily triggers, with
// execution history, retry with exponential backoff, run-now, and
// enable/disable — all on a single cooperative tick loop that dispatches
// each firing job to its own worker.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
)

// tickGranularity is how often the scheduler loop re-evaluates every
// job's next fire time, per §4.9.
const tickGranularity = 1 * time.Second

// JobFunc is the body of a registered job. It must respect ctx
// cancellation — once a run's context is cancelled, the scheduler waits
// killAfter for it to return before recording the run as cancelled.
type JobFunc func(ctx context.Context) error

// ExecutionStore persists job executions; kept narrow so this package
// never imports the storage package directly.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, exec model.JobExecution) error
	History(ctx context.Context, jobName string, limit int) ([]model.JobExecution, error)
}

// nullStore is used when no ExecutionStore is configured (e.g. in tests):
// history is simply unavailable, but jobs still run.
type nullStore struct{}

func (nullStore) RecordExecution(context.Context, model.JobExecution) error { return nil }
func (nullStore) History(context.Context, string, int) ([]model.JobExecution, error) {
	return nil, nil
}

type jobState struct {
	mu       sync.Mutex
	job      model.ScheduledJob
	fn       JobFunc
	nextFire time.Time
	running  bool
}

// Scheduler is the single cooperative loop described in §5: one worker
// drives the tick loop, and each firing job dispatches to its own
// transient worker so slow jobs never block other jobs' evaluation.
type Scheduler struct {
	mu   sync.RWMutex
	jobs map[string]*jobState

	store       ExecutionStore
	bus         *eventbus.Bus
	log         logr.Logger
	gracePeriod time.Duration
	killAfter   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	runWG  sync.WaitGroup
}

// Config wires the scheduler's dependencies.
type Config struct {
	Store       ExecutionStore
	Bus         *eventbus.Bus
	Log         logr.Logger
	GracePeriod time.Duration // default 10s
	KillAfter   time.Duration // default 5s; wait after cancellation before a run is recorded as cancelled
}

func New(cfg Config) *Scheduler {
	if cfg.Store == nil {
		cfg.Store = nullStore{}
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.KillAfter <= 0 {
		cfg.KillAfter = 5 * time.Second
	}
	return &Scheduler{
		jobs:        make(map[string]*jobState),
		store:       cfg.Store,
		bus:         cfg.Bus,
		log:         cfg.Log,
		gracePeriod: cfg.GracePeriod,
		killAfter:   cfg.KillAfter,
	}
}

// Register adds a job to the registry. The running loop re-reads the
// registry on every tick, so a job registered after Start is evaluated
// from the next tick on.
func (s *Scheduler) Register(name string, trigger model.Trigger, retry model.RetryPolicy, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return baluerr.New(baluerr.KindInvalidArg, "scheduler.register", "job "+name+" already registered")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffSeconds <= 0 {
		retry.BackoffSeconds = 5
	}
	if retry.MaxBackoffSeconds <= 0 {
		retry.MaxBackoffSeconds = 300
	}
	next, err := nextFireTime(trigger, time.Now())
	if err != nil {
		return err
	}
	s.jobs[name] = &jobState{
		job: model.ScheduledJob{
			Name:        name,
			Trigger:     trigger,
			Enabled:     true,
			LastStatus:  model.JobStatusNone,
			RetryPolicy: retry,
		},
		fn:       fn,
		nextFire: next,
	}
	return nil
}

// Start begins the tick loop. It returns immediately; call Stop to shut
// down cooperatively.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the tick loop and every running job, waiting up to
// gracePeriod for in-flight executions to finish before returning.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.gracePeriod):
		s.log.Info("scheduler shutdown grace period elapsed with jobs still running")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(tickGranularity)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evaluate(ctx, now)
		}
	}
}

// evaluate fires every job whose nextFire has passed. Firings missed
// while the loop was not ticking collapse to a single catch-up run:
// nextFire is always recomputed from `now`, not from the missed instant,
// per §8 S4. A firing that comes due while the job is disabled or still
// running is skipped, not queued.
func (s *Scheduler) evaluate(ctx context.Context, now time.Time) {
	s.mu.RLock()
	states := make([]*jobState, 0, len(s.jobs))
	for _, st := range s.jobs {
		states = append(states, st)
	}
	s.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		due := !st.nextFire.After(now)
		enabled := st.job.Enabled
		busy := st.running
		if due {
			next, err := nextFireTime(st.job.Trigger, now)
			if err == nil {
				st.nextFire = next
			}
		}
		st.mu.Unlock()

		if due && enabled && !busy {
			s.dispatch(ctx, st, model.TriggeredBySchedule)
		}
	}
}

// RunNow dispatches a job immediately, ignoring its trigger. Refused if
// the job is currently running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	st, err := s.get(name)
	if err != nil {
		return err
	}
	st.mu.Lock()
	busy := st.running
	st.mu.Unlock()
	if busy {
		return baluerr.New(baluerr.KindPreconditionFailed, "scheduler.runNow", "job "+name+" is already running")
	}
	s.dispatch(ctx, st, model.TriggeredByManual)
	return nil
}

// SetEnabled toggles a job. Disabling does not interrupt an in-flight run.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	st, err := s.get(name)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.job.Enabled = enabled
	st.mu.Unlock()
	return nil
}

// GetJob returns the current snapshot of one job's state.
func (s *Scheduler) GetJob(name string) (model.ScheduledJob, error) {
	st, err := s.get(name)
	if err != nil {
		return model.ScheduledJob{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.job, nil
}

// ListJobs returns a snapshot of every registered job.
func (s *Scheduler) ListJobs() []model.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScheduledJob, 0, len(s.jobs))
	for _, st := range s.jobs {
		st.mu.Lock()
		out = append(out, st.job)
		st.mu.Unlock()
	}
	return out
}

// History returns the N most recent executions for a job, most recent first.
func (s *Scheduler) History(ctx context.Context, name string, limit int) ([]model.JobExecution, error) {
	if _, err := s.get(name); err != nil {
		return nil, err
	}
	return s.store.History(ctx, name, limit)
}

func (s *Scheduler) get(name string) (*jobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.jobs[name]
	if !ok {
		return nil, baluerr.New(baluerr.KindNotFound, "scheduler.get", "job "+name+" not found")
	}
	return st, nil
}

// dispatch spawns the transient worker that owns one job's run including
// its retry loop. Concurrency exclusivity is enforced by st.running,
// checked and set while still holding st.mu.
func (s *Scheduler) dispatch(ctx context.Context, st *jobState, triggeredBy model.TriggeredBy) {
	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	st.running = true
	st.mu.Unlock()

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer cancel()
		s.runWithRetry(runCtx, st, triggeredBy)

		st.mu.Lock()
		st.running = false
		st.mu.Unlock()
	}()
}

func (s *Scheduler) runWithRetry(ctx context.Context, st *jobState, triggeredBy model.TriggeredBy) {
	st.mu.Lock()
	policy := st.job.RetryPolicy
	name := st.job.Name
	st.mu.Unlock()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		tb := triggeredBy
		if attempt > 1 {
			tb = model.TriggeredByRetry
		}
		if s.runOnce(ctx, st, tb) {
			return // success
		}
		if attempt == policy.MaxAttempts {
			break
		}
		backoff := backoffDuration(policy, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	st.mu.Lock()
	failures := st.job.ConsecutiveFailures
	st.mu.Unlock()
	if s.bus != nil && (failures == 3 || failures == 10) {
		s.bus.Publish(eventbus.Event{
			Topic:   eventbus.TopicSchedulerJobFailing,
			Payload: schedulerJobFailing{Name: name, Count: failures},
		})
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicJobFailed, Payload: name})
	}
}

// schedulerJobFailing is the payload for TopicSchedulerJobFailing events.
type schedulerJobFailing struct {
	Name  string
	Count int
}

func backoffDuration(policy model.RetryPolicy, attempt int) time.Duration {
	backoff := policy.BackoffSeconds
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= policy.MaxBackoffSeconds {
			backoff = policy.MaxBackoffSeconds
			break
		}
	}
	return time.Duration(backoff) * time.Second
}

// runOnce executes the job body once, records the execution, and
// reports whether it succeeded.
func (s *Scheduler) runOnce(ctx context.Context, st *jobState, triggeredBy model.TriggeredBy) bool {
	start := time.Now()
	exec := model.JobExecution{
		JobName:     st.job.Name,
		StartedAt:   start,
		Status:      model.JobStatusRunning,
		TriggeredBy: triggeredBy,
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- baluerr.New(baluerr.KindBug, "scheduler.runOnce", "job panicked")
			}
		}()
		done <- st.fn(ctx)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		select {
		case runErr = <-done:
		case <-time.After(s.killAfter):
			runErr = baluerr.New(baluerr.KindTimeout, "scheduler.runOnce", "job did not exit within killAfter")
			exec.Status = model.JobStatusCancelled
		}
	}

	finished := time.Now()
	exec.FinishedAt = &finished
	exec.DurationMs = finished.Sub(start).Milliseconds()

	st.mu.Lock()
	defer st.mu.Unlock()

	success := runErr == nil && exec.Status != model.JobStatusCancelled
	if success {
		exec.Status = model.JobStatusSuccess
		st.job.ConsecutiveFailures = 0
	} else {
		if exec.Status != model.JobStatusCancelled {
			exec.Status = model.JobStatusFailure
		}
		if runErr != nil {
			exec.Error = runErr.Error()
		}
		st.job.ConsecutiveFailures++
	}
	st.job.LastRunAt = &start
	st.job.LastStatus = exec.Status
	st.job.LastErr = exec.Error

	if err := s.store.RecordExecution(context.Background(), exec); err != nil {
		s.log.Error(err, "failed to record job execution", "job", st.job.Name)
	}
	return success
}

// Package scheduler drives periodic collection jobs: each registered job owns
// a cadence (daily or fixed interval), a bounded retry budget, and an
// at-most-one-in-flight guarantee.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/source"
)

// Outcome classifies one job execution attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped records a cadence tick dropped because the prior run
	// for the same job was still executing.
	OutcomeSkipped Outcome = "skipped"
)

// JobRun describes one execution attempt (or a skipped tick). Terminal marks
// the last attempt of a run: a success, an exhausted retry budget, or a
// non-retryable failure.
type JobRun struct {
	JobID     string
	Source    source.SourceType
	Attempt   int
	StartedAt time.Time
	Outcome   Outcome
	Terminal  bool
	Err       error
}

// Observer receives every JobRun the scheduler produces. Observers are
// attached at construction and must not block for long.
type Observer interface {
	ObserveRun(ctx context.Context, run JobRun)
}

// DailyTime is a wall-clock firing time.
type DailyTime struct {
	Hour   int
	Minute int
}

// Cadence is either a daily firing time or a fixed interval. Exactly one
// must be set. Interval jobs also fire once immediately on start.
type Cadence struct {
	Daily *DailyTime
	Every time.Duration
}

func (c Cadence) valid() bool {
	if c.Daily != nil {
		return c.Every == 0 &&
			c.Daily.Hour >= 0 && c.Daily.Hour < 24 &&
			c.Daily.Minute >= 0 && c.Daily.Minute < 60
	}
	return c.Every > 0
}

// next returns the next firing time strictly after now.
func (c Cadence) next(now time.Time) time.Time {
	if c.Every > 0 {
		return now.Add(c.Every)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), c.Daily.Hour, c.Daily.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// JobSpec configures one recurring collection job.
type JobSpec struct {
	ID         string
	Source     source.SourceType
	Cadence    Cadence
	MaxRetries int
	// Backoff is the delay before the first retry; with Exponential set it
	// doubles on each subsequent retry.
	Backoff     time.Duration
	Exponential bool
}

type job struct {
	spec      JobSpec
	connector source.Connector
	inFlight  atomic.Bool
}

// Scheduler runs registered jobs on their cadences until stopped. Jobs for
// different sources run concurrently; runs of the same job never overlap.
type Scheduler struct {
	store     store.Store
	log       *slog.Logger
	observers []Observer

	mu      sync.Mutex
	jobs    []*job
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. Observers receive every JobRun produced.
func New(st store.Store, log *slog.Logger, observers ...Observer) *Scheduler {
	return &Scheduler{
		store:     st,
		log:       log,
		observers: observers,
		stopCh:    make(chan struct{}),
	}
}

// Schedule registers a job. It must be called before Start.
func (s *Scheduler) Schedule(spec JobSpec, conn source.Connector) error {
	if spec.ID == "" {
		spec.ID = fmt.Sprintf("collect_%s", spec.Source)
	}
	if !spec.Source.Valid() {
		return fmt.Errorf("schedule %s: unknown source %q", spec.ID, spec.Source)
	}
	if conn == nil || conn.Name() != spec.Source {
		return fmt.Errorf("schedule %s: connector does not match source %s", spec.ID, spec.Source)
	}
	if !spec.Cadence.valid() {
		return fmt.Errorf("schedule %s: cadence must be daily or a positive interval", spec.ID)
	}
	if spec.MaxRetries < 0 {
		return fmt.Errorf("schedule %s: max retries must be >= 0", spec.ID)
	}
	if spec.Backoff <= 0 {
		spec.Backoff = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("schedule %s: scheduler already started", spec.ID)
	}
	for _, j := range s.jobs {
		if j.spec.ID == spec.ID {
			return fmt.Errorf("schedule %s: duplicate job id", spec.ID)
		}
	}
	s.jobs = append(s.jobs, &job{spec: spec, connector: conn})
	return nil
}

// Start launches one background lane per job. Cancelling ctx aborts in-flight
// attempts; use Stop for a graceful shutdown that lets them finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}

	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop requests a graceful shutdown and blocks until every in-flight run,
// including in-progress retries, has finished. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	// Interval jobs collect once right away, like a fresh deploy should.
	if j.spec.Cadence.Every > 0 {
		s.fire(ctx, j, time.Now())
	}

	for {
		timer := time.NewTimer(time.Until(j.spec.Cadence.next(time.Now())))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case tick := <-timer.C:
			s.fire(ctx, j, tick)
		}
	}
}

// fire starts a run for one cadence tick unless the previous run is still
// executing, in which case the tick is recorded as skipped, not queued.
func (s *Scheduler) fire(ctx context.Context, j *job, tick time.Time) {
	if !j.inFlight.CompareAndSwap(false, true) {
		s.log.Warn("tick skipped, prior run still in flight",
			"job_id", j.spec.ID, "source", j.spec.Source)
		s.notify(ctx, JobRun{
			JobID:     j.spec.ID,
			Source:    j.spec.Source,
			StartedAt: tick.UTC(),
			Outcome:   OutcomeSkipped,
			Terminal:  true,
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.inFlight.Store(false)
		s.execute(ctx, j)
	}()
}

// execute runs one collection cycle with up to 1 + MaxRetries attempts.
// Terminal failures are reported to the observers and the log, never raised.
func (s *Scheduler) execute(ctx context.Context, j *job) {
	attempts := j.spec.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		started := time.Now().UTC()
		err := s.runAttempt(ctx, j)

		run := JobRun{
			JobID:     j.spec.ID,
			Source:    j.spec.Source,
			Attempt:   attempt,
			StartedAt: started,
		}

		if err == nil {
			run.Outcome = OutcomeSucceeded
			run.Terminal = true
			s.notify(ctx, run)
			return
		}

		run.Outcome = OutcomeFailed
		run.Err = err
		run.Terminal = attempt == attempts || !retryable(err)
		s.notify(ctx, run)

		if run.Terminal {
			s.log.Error("job failed",
				"job_id", j.spec.ID, "source", j.spec.Source,
				"attempts", attempt, "error", err)
			return
		}

		s.log.Warn("attempt failed, retrying",
			"job_id", j.spec.ID, "attempt", attempt,
			"max_attempts", attempts, "error", err)

		select {
		case <-time.After(backoffDelay(j.spec, attempt)):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runAttempt(ctx context.Context, j *job) error {
	items, err := j.connector.Collect(ctx)
	if err != nil {
		return err
	}

	sess, err := s.store.CreateSession(ctx, j.spec.Source, items)
	if err != nil {
		return err
	}

	s.log.Info("session committed",
		"job_id", j.spec.ID, "source", j.spec.Source,
		"session_id", sess.ID, "items", sess.ItemCount)
	return nil
}

func (s *Scheduler) notify(ctx context.Context, run JobRun) {
	for _, obs := range s.observers {
		obs.ObserveRun(ctx, run)
	}
}

// retryable reports whether a run failure should consume a retry. Bad input
// never heals on retry; fetch and storage failures might.
func retryable(err error) bool {
	return !store.IsValidation(err)
}

// backoffDelay returns the delay before the retry following attempt.
func backoffDelay(spec JobSpec, attempt int) time.Duration {
	delay := spec.Backoff
	if spec.Exponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	return delay
}

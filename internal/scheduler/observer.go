package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/alert"
)

// LogObserver writes every job run to a structured logger.
type LogObserver struct {
	Log *slog.Logger
}

func (o *LogObserver) ObserveRun(ctx context.Context, run JobRun) {
	attrs := []any{
		"job_id", run.JobID,
		"source", run.Source,
		"attempt", run.Attempt,
		"outcome", run.Outcome,
	}
	if run.Err != nil {
		attrs = append(attrs, "error", run.Err)
	}

	switch run.Outcome {
	case OutcomeSucceeded:
		o.Log.Info("job run", attrs...)
	case OutcomeSkipped:
		o.Log.Warn("job run", attrs...)
	default:
		o.Log.Error("job run", attrs...)
	}
}

// StoreObserver appends every job run to the store's run log. Persistence
// failures are logged and swallowed; observability must not fail a run.
type StoreObserver struct {
	Store store.Store
	Log   *slog.Logger
}

func (o *StoreObserver) ObserveRun(ctx context.Context, run JobRun) {
	record := store.JobRunRecord{
		JobID:     run.JobID,
		Source:    string(run.Source),
		Attempt:   run.Attempt,
		StartedAt: run.StartedAt,
		Outcome:   string(run.Outcome),
	}
	if run.Err != nil {
		record.Error = run.Err.Error()
	}

	if err := o.Store.AppendJobRun(ctx, record); err != nil {
		o.Log.Error("record job run", "job_id", run.JobID, "error", err)
	}
}

// AlertObserver notifies the configured webhooks when a job exhausts its
// retries. Attempt-level failures stay in the log.
type AlertObserver struct {
	Manager *alert.Manager
	Log     *slog.Logger
}

func (o *AlertObserver) ObserveRun(ctx context.Context, run JobRun) {
	if run.Outcome != OutcomeFailed || !run.Terminal || !o.Manager.HasNotifiers() {
		return
	}

	n := &alert.Notification{
		Title:    fmt.Sprintf("collection job %s failed", run.JobID),
		Body:     fmt.Sprintf("source %s gave up after %d attempt(s): %v", run.Source, run.Attempt, run.Err),
		JobID:    run.JobID,
		Source:   string(run.Source),
		Attempts: run.Attempt,
	}
	if err := o.Manager.Broadcast(ctx, n); err != nil {
		o.Log.Error("send failure alert", "job_id", run.JobID, "error", err)
	}
}

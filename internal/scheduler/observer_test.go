package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/alert"
	"github.com/hyunwoo/snaptrack/pkg/source"
)

type runLogStore struct {
	store.Store

	mu        sync.Mutex
	appendErr error
	records   []store.JobRunRecord
}

func (s *runLogStore) AppendJobRun(_ context.Context, run store.JobRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, run)
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []*alert.Notification
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, n *alert.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func TestStoreObserver(t *testing.T) {
	st := &runLogStore{}
	obs := &StoreObserver{Store: st, Log: testLogger()}

	obs.ObserveRun(context.Background(), JobRun{
		JobID:     "collect_reddit",
		Source:    source.SourceReddit,
		Attempt:   2,
		StartedAt: time.Now().UTC(),
		Outcome:   OutcomeFailed,
		Err:       errors.New("boom"),
	})

	if len(st.records) != 1 {
		t.Fatalf("got %d records, want 1", len(st.records))
	}
	rec := st.records[0]
	if rec.JobID != "collect_reddit" || rec.Attempt != 2 || rec.Outcome != "failed" || rec.Error != "boom" {
		t.Errorf("record = %+v", rec)
	}
}

func TestStoreObserverSwallowsPersistenceFailure(t *testing.T) {
	st := &runLogStore{appendErr: errors.New("disk full")}
	obs := &StoreObserver{Store: st, Log: testLogger()}

	// Must not panic or surface the error.
	obs.ObserveRun(context.Background(), JobRun{JobID: "collect_reddit", Outcome: OutcomeSucceeded})
}

func TestAlertObserver(t *testing.T) {
	tests := []struct {
		name      string
		run       JobRun
		wantAlert bool
	}{
		{
			name:      "terminal failure alerts",
			run:       JobRun{JobID: "collect_reddit", Source: source.SourceReddit, Attempt: 4, Outcome: OutcomeFailed, Terminal: true, Err: errors.New("boom")},
			wantAlert: true,
		},
		{
			name:      "retryable failure stays quiet",
			run:       JobRun{JobID: "collect_reddit", Attempt: 1, Outcome: OutcomeFailed, Terminal: false, Err: errors.New("boom")},
			wantAlert: false,
		},
		{
			name:      "success stays quiet",
			run:       JobRun{JobID: "collect_reddit", Attempt: 1, Outcome: OutcomeSucceeded, Terminal: true},
			wantAlert: false,
		},
		{
			name:      "skipped tick stays quiet",
			run:       JobRun{JobID: "collect_reddit", Outcome: OutcomeSkipped, Terminal: true},
			wantAlert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cn := &captureNotifier{}
			obs := &AlertObserver{Manager: alert.NewManager([]alert.Notifier{cn}), Log: testLogger()}

			obs.ObserveRun(context.Background(), tt.run)

			if got := len(cn.sent) > 0; got != tt.wantAlert {
				t.Errorf("alerted = %v, want %v", got, tt.wantAlert)
			}
			if tt.wantAlert {
				n := cn.sent[0]
				if n.JobID != tt.run.JobID || n.Attempts != tt.run.Attempt {
					t.Errorf("notification = %+v", n)
				}
			}
		})
	}
}

func TestLogObserverOutcomes(t *testing.T) {
	obs := &LogObserver{Log: testLogger()}
	for _, outcome := range []Outcome{OutcomeSucceeded, OutcomeFailed, OutcomeSkipped} {
		obs.ObserveRun(context.Background(), JobRun{
			JobID:   "collect_reddit",
			Source:  source.SourceReddit,
			Outcome: outcome,
			Err:     errors.New("x"),
		})
	}
}

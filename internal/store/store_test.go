package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hyunwoo/snaptrack/pkg/source"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func redditItems(n int) []source.Item {
	items := make([]source.Item, n)
	for i := range items {
		items[i] = source.Item{
			ExternalID:  fmt.Sprintf("t3_%d", i),
			Title:       fmt.Sprintf("post %d", i),
			URL:         fmt.Sprintf("https://reddit.com/%d", i),
			Author:      "someone",
			Metrics:     map[string]float64{"score": float64(100 + i), "num_comments": float64(10 + i)},
			PublishedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		}
	}
	return items
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := redditItems(3)
	sess, err := s.CreateSession(ctx, source.SourceReddit, items)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if sess.ID == 0 {
		t.Fatal("expected non-zero session id")
	}
	if sess.ItemCount != 3 {
		t.Errorf("item_count = %d, want 3", sess.ItemCount)
	}
	if sess.Source != source.SourceReddit {
		t.Errorf("source = %s, want reddit", sess.Source)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ItemCount != len(items) {
		t.Errorf("stored item_count = %d, want %d", got.ItemCount, len(items))
	}

	stored, err := s.SessionItems(ctx, sess.ID, source.SourceReddit)
	if err != nil {
		t.Fatalf("session items: %v", err)
	}
	if diff := cmp.Diff(items, stored); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name  string
		src   source.SourceType
		items []source.Item
	}{
		{
			name:  "unknown source",
			src:   source.SourceType("myspace"),
			items: redditItems(1),
		},
		{
			name:  "empty items",
			src:   source.SourceReddit,
			items: nil,
		},
		{
			name: "missing tracked metric",
			src:  source.SourceGitHub,
			items: []source.Item{{
				ExternalID: "owner/repo",
				Title:      "repo",
				Metrics:    map[string]float64{"stars": 10}, // no forks
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateSession(ctx, tt.src, tt.items)
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	// Nothing should have been committed.
	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("expected empty store after rejected sessions, got %v", stats)
	}
}

func TestSessionIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var prev int64
	for i := 0; i < 5; i++ {
		sess, err := s.CreateSession(ctx, source.SourceReddit, redditItems(2))
		if err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
		if sess.ID <= prev {
			t.Fatalf("session id %d not greater than previous %d", sess.ID, prev)
		}
		prev = sess.ID
	}
}

func TestConcurrentCreateSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const writers = 8
	var wg sync.WaitGroup
	ids := make([]int64, writers)
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := source.SourceReddit
			items := redditItems(4)
			if i%2 == 1 {
				src = source.SourceHackerNews
				for j := range items {
					items[j].Metrics = map[string]float64{"points": 50, "num_comments": 5}
				}
			}
			sess, err := s.CreateSession(ctx, src, items)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("writer %d: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Fatalf("duplicate session id %d", ids[i])
		}
		seen[ids[i]] = true
	}

	// Every committed session must be complete.
	for _, src := range []source.SourceType{source.SourceReddit, source.SourceHackerNews} {
		sessions, err := s.RecentSessions(ctx, src, writers)
		if err != nil {
			t.Fatalf("recent sessions %s: %v", src, err)
		}
		for _, sess := range sessions {
			items, err := s.SessionItems(ctx, sess.ID, src)
			if err != nil {
				t.Fatalf("items for %d: %v", sess.ID, err)
			}
			if len(items) != sess.ItemCount {
				t.Errorf("session %d: %d items stored, header says %d", sess.ID, len(items), sess.ItemCount)
			}
		}
	}
}

func TestLatestSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.LatestSession(ctx, source.SourceReddit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	var last *Session
	for i := 0; i < 3; i++ {
		sess, err := s.CreateSession(ctx, source.SourceReddit, redditItems(1))
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		last = sess
	}

	got, err := s.LatestSession(ctx, source.SourceReddit)
	if err != nil {
		t.Fatalf("latest session: %v", err)
	}
	// Sessions committed in the same instant tie-break by highest id.
	if got.ID != last.ID {
		t.Errorf("latest id = %d, want %d", got.ID, last.ID)
	}
}

func TestRecentSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 4; i++ {
		if _, err := s.CreateSession(ctx, source.SourceReddit, redditItems(1)); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	sessions, err := s.RecentSessions(ctx, source.SourceReddit, 2)
	if err != nil {
		t.Fatalf("recent sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID < sessions[1].ID {
		t.Errorf("sessions not newest-first: %d before %d", sessions[0].ID, sessions[1].ID)
	}

	if _, err := s.RecentSessions(ctx, source.SourceReddit, 0); !IsValidation(err) {
		t.Errorf("expected validation error for limit 0, got %v", err)
	}
	if _, err := s.RecentSessions(ctx, source.SourceReddit, -1); !IsValidation(err) {
		t.Errorf("expected validation error for negative limit, got %v", err)
	}
}

func TestSessionItemsWrongSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.CreateSession(ctx, source.SourceReddit, redditItems(1))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := s.SessionItems(ctx, sess.ID, source.SourceGitHub); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong source, got %v", err)
	}
	if _, err := s.SessionItems(ctx, sess.ID+100, source.SourceReddit); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing session, got %v", err)
	}
}

func TestRSSSessionHasNoMetrics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	items := []source.Item{{
		ExternalID:  "https://blog.example.com/post",
		Title:       "a post",
		URL:         "https://blog.example.com/post",
		Metrics:     map[string]float64{},
		PublishedAt: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
	}}

	sess, err := s.CreateSession(ctx, source.SourceRSS, items)
	if err != nil {
		t.Fatalf("create rss session: %v", err)
	}

	stored, err := s.SessionItems(ctx, sess.ID, source.SourceRSS)
	if err != nil {
		t.Fatalf("session items: %v", err)
	}
	if len(stored) != 1 || len(stored[0].Metrics) != 0 {
		t.Errorf("rss items should carry no metrics, got %+v", stored)
	}
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		if _, err := s.CreateSession(ctx, source.SourceReddit, redditItems(3)); err != nil {
			t.Fatalf("create reddit session: %v", err)
		}
	}
	hn := redditItems(5)
	for i := range hn {
		hn[i].Metrics = map[string]float64{"points": 10, "num_comments": 2}
	}
	if _, err := s.CreateSession(ctx, source.SourceHackerNews, hn); err != nil {
		t.Fatalf("create hn session: %v", err)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}

	r := stats[source.SourceReddit]
	if r.TotalSessions != 2 || r.TotalItems != 6 {
		t.Errorf("reddit stats = %+v, want 2 sessions / 6 items", r)
	}
	h := stats[source.SourceHackerNews]
	if h.TotalSessions != 1 || h.TotalItems != 5 {
		t.Errorf("hackernews stats = %+v, want 1 session / 5 items", h)
	}
	if r.LastCollectedAt.Before(r.FirstCollectedAt) {
		t.Errorf("last collected %v before first %v", r.LastCollectedAt, r.FirstCollectedAt)
	}
}

func TestJobRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	runs := []JobRunRecord{
		{JobID: "collect_reddit", Source: "reddit", Attempt: 1, StartedAt: time.Now().UTC(), Outcome: "failed", Error: "fetch reddit: boom"},
		{JobID: "collect_reddit", Source: "reddit", Attempt: 2, StartedAt: time.Now().UTC(), Outcome: "succeeded"},
		{JobID: "collect_github", Source: "github", Attempt: 1, StartedAt: time.Now().UTC(), Outcome: "succeeded"},
	}
	for _, r := range runs {
		if err := s.AppendJobRun(ctx, r); err != nil {
			t.Fatalf("append job run: %v", err)
		}
	}

	got, err := s.RecentJobRuns(ctx, "collect_reddit", 10)
	if err != nil {
		t.Fatalf("recent job runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs for collect_reddit, want 2", len(got))
	}
	// Newest first.
	if got[0].Attempt != 2 || got[0].Outcome != "succeeded" {
		t.Errorf("newest run = %+v, want attempt 2 succeeded", got[0])
	}

	all, err := s.RecentJobRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent job runs all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d total runs, want 3", len(all))
	}
}

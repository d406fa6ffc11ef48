package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/analytics"
	"github.com/hyunwoo/snaptrack/pkg/source"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	srv := httptest.NewServer(New(db, analytics.New(db), 0).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func seedSession(t *testing.T, db *store.SQLiteStore, stars ...float64) *store.Session {
	t.Helper()
	items := make([]source.Item, len(stars))
	for i, st := range stars {
		items[i] = source.Item{
			ExternalID: "owner/repo",
			Title:      "repo",
			Metrics:    map[string]float64{"stars": st, "forks": 1},
		}
	}
	sess, err := db.CreateSession(context.Background(), source.SourceGitHub, items)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("%s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	body := getJSON(t, srv.URL+"/health", http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestSessions(t *testing.T) {
	srv, db := newTestServer(t)
	seedSession(t, db, 10)
	seedSession(t, db, 20)

	body := getJSON(t, srv.URL+"/api/v1/sources/github/sessions", http.StatusOK)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	body = getJSON(t, srv.URL+"/api/v1/sources/github/sessions?limit=1", http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("limited count = %v, want 1", body["count"])
	}

	// Invalid limits are rejected, not clamped.
	getJSON(t, srv.URL+"/api/v1/sources/github/sessions?limit=abc", http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/v1/sources/github/sessions?limit=0", http.StatusBadRequest)

	getJSON(t, srv.URL+"/api/v1/sources/myspace/sessions", http.StatusBadRequest)
}

func TestLatestSession(t *testing.T) {
	srv, db := newTestServer(t)

	getJSON(t, srv.URL+"/api/v1/sources/github/sessions/latest", http.StatusNotFound)

	seedSession(t, db, 10)
	last := seedSession(t, db, 20)

	body := getJSON(t, srv.URL+"/api/v1/sources/github/sessions/latest", http.StatusOK)
	data := body["data"].(map[string]any)
	if data["id"] != float64(last.ID) {
		t.Errorf("latest id = %v, want %d", data["id"], last.ID)
	}
}

func TestSessionItems(t *testing.T) {
	srv, db := newTestServer(t)
	sess := seedSession(t, db, 10, 20)

	url := srv.URL + "/api/v1/sources/github/sessions/" + itoa(sess.ID) + "/items"
	body := getJSON(t, url, http.StatusOK)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	// Wrong source and missing id both read as not found.
	getJSON(t, srv.URL+"/api/v1/sources/reddit/sessions/"+itoa(sess.ID)+"/items", http.StatusNotFound)
	getJSON(t, srv.URL+"/api/v1/sources/github/sessions/999/items", http.StatusNotFound)
	getJSON(t, srv.URL+"/api/v1/sources/github/sessions/abc/items", http.StatusBadRequest)
}

func TestSessionSummary(t *testing.T) {
	srv, db := newTestServer(t)
	sess := seedSession(t, db, 10, 20, 30)

	url := srv.URL + "/api/v1/sources/github/sessions/" + itoa(sess.ID) + "/summary"
	body := getJSON(t, url, http.StatusOK)

	data := body["data"].(map[string]any)
	if data["item_count"] != float64(3) {
		t.Errorf("item_count = %v, want 3", data["item_count"])
	}
	stats := data["metric_stats"].(map[string]any)
	stars := stats["stars"].(map[string]any)
	if stars["mean"] != float64(20) || stars["median"] != float64(20) {
		t.Errorf("stars stats = %v, want mean 20 median 20", stars)
	}
	if stars["max"] != float64(30) || stars["min"] != float64(10) {
		t.Errorf("stars range = %v, want max 30 min 10", stars)
	}

	getJSON(t, srv.URL+"/api/v1/sources/reddit/sessions/"+itoa(sess.ID)+"/summary", http.StatusNotFound)
	getJSON(t, srv.URL+"/api/v1/sources/github/sessions/999/summary", http.StatusNotFound)
	getJSON(t, srv.URL+"/api/v1/sources/github/sessions/abc/summary", http.StatusBadRequest)
}

func TestCompare(t *testing.T) {
	srv, db := newTestServer(t)
	older := seedSession(t, db, 10, 20)
	newer := seedSession(t, db, 20, 30)

	url := srv.URL + "/api/v1/sources/github/compare?older=" + itoa(older.ID) + "&newer=" + itoa(newer.ID)
	body := getJSON(t, url, http.StatusOK)

	data := body["data"].(map[string]any)
	deltas := data["metric_deltas"].(map[string]any)
	stars := deltas["stars"].(map[string]any)
	if stars["change"] != float64(10) {
		t.Errorf("stars change = %v, want 10", stars["change"])
	}

	// Reversed order is a client error.
	reversed := srv.URL + "/api/v1/sources/github/compare?older=" + itoa(newer.ID) + "&newer=" + itoa(older.ID)
	getJSON(t, reversed, http.StatusBadRequest)

	getJSON(t, srv.URL+"/api/v1/sources/github/compare?older=1", http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/v1/sources/github/compare?older=998&newer=999", http.StatusNotFound)
}

func TestTrend(t *testing.T) {
	srv, db := newTestServer(t)
	seedSession(t, db, 10, 20)

	body := getJSON(t, srv.URL+"/api/v1/sources/github/trend", http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}

	getJSON(t, srv.URL+"/api/v1/sources/github/trend?days=0", http.StatusBadRequest)
	getJSON(t, srv.URL+"/api/v1/sources/github/trend?days=abc", http.StatusBadRequest)
}

func TestJobRuns(t *testing.T) {
	srv, db := newTestServer(t)

	runs := []store.JobRunRecord{
		{JobID: "collect_github", Source: "github", Attempt: 1, Outcome: "succeeded"},
		{JobID: "collect_reddit", Source: "reddit", Attempt: 1, Outcome: "failed", Error: "boom"},
	}
	for _, r := range runs {
		if err := db.AppendJobRun(context.Background(), r); err != nil {
			t.Fatalf("append run: %v", err)
		}
	}

	body := getJSON(t, srv.URL+"/api/v1/jobs/runs", http.StatusOK)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	body = getJSON(t, srv.URL+"/api/v1/jobs/runs?job=collect_reddit", http.StatusOK)
	if body["count"] != float64(1) {
		t.Errorf("filtered count = %v, want 1", body["count"])
	}
}

func TestStats(t *testing.T) {
	srv, db := newTestServer(t)
	seedSession(t, db, 10)

	body := getJSON(t, srv.URL+"/api/v1/stats", http.StatusOK)
	data := body["data"].(map[string]any)
	gh := data["github"].(map[string]any)
	if gh["total_sessions"] != float64(1) {
		t.Errorf("github total_sessions = %v, want 1", gh["total_sessions"])
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hyunwoo/snaptrack/pkg/source"
)

// Session is one immutable, versioned snapshot of a collection run.
// Committed sessions are never updated.
type Session struct {
	ID          int64             `db:"id" json:"id"`
	Source      source.SourceType `db:"source" json:"source"`
	CollectedAt time.Time         `db:"collected_at" json:"collected_at"`
	ItemCount   int               `db:"item_count" json:"item_count"`
}

// SourceStats aggregates all stored history for one source.
type SourceStats struct {
	TotalSessions    int       `json:"total_sessions"`
	TotalItems       int       `json:"total_items"`
	FirstCollectedAt time.Time `json:"first_collected_at"`
	LastCollectedAt  time.Time `json:"last_collected_at"`
}

// JobRunRecord is one persisted scheduler execution attempt. Records are
// append-only.
type JobRunRecord struct {
	ID        int64     `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Source    string    `db:"source" json:"source"`
	Attempt   int       `db:"attempt" json:"attempt"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	Outcome   string    `db:"outcome" json:"outcome"`
	Error     string    `db:"error" json:"error,omitempty"`
}

// Store is the persistence interface.
type Store interface {
	CreateSession(ctx context.Context, src source.SourceType, items []source.Item) (*Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	LatestSession(ctx context.Context, src source.SourceType) (*Session, error)
	RecentSessions(ctx context.Context, src source.SourceType, limit int) ([]Session, error)
	SessionItems(ctx context.Context, sessionID int64, src source.SourceType) ([]source.Item, error)
	SessionsSince(ctx context.Context, src source.SourceType, since time.Time) ([]Session, error)
	Statistics(ctx context.Context) (map[source.SourceType]SourceStats, error)

	AppendJobRun(ctx context.Context, run JobRunRecord) error
	RecentJobRuns(ctx context.Context, jobID string, limit int) ([]JobRunRecord, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB

	// Serializes commits so session ids stay monotonic under concurrent
	// writers. Readers never take this lock.
	writeMu sync.Mutex
}

// New opens a SQLite database and applies the schema.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession commits a new session and all its items as one transaction.
// Readers observe either none of it or all of it.
func (s *SQLiteStore) CreateSession(ctx context.Context, src source.SourceType, items []source.Item) (*Session, error) {
	if !src.Valid() {
		return nil, validationErrorf("unknown source %q", src)
	}
	if len(items) == 0 {
		return nil, validationErrorf("no items to commit for %s", src)
	}
	tracked := source.TrackedMetrics(src)
	for i, item := range items {
		for _, name := range tracked {
			if _, ok := item.Metrics[name]; !ok {
				return nil, validationErrorf("item %d missing %s metric %q", i, src, name)
			}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback()

	collectedAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (source, collected_at, item_count)
		VALUES (?, ?, ?)
	`, src, collectedAt, len(items))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	for ordinal, item := range items {
		metricsJSON, _ := json.Marshal(item.Metrics)
		extraJSON, _ := json.Marshal(item.Extra)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (session_id, ordinal, external_id, title, url, author, description, metrics, extra, published_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, ordinal, item.ExternalID, item.Title, item.URL,
			item.Author, item.Description, string(metricsJSON), string(extraJSON),
			item.PublishedAt.UTC()); err != nil {
			return nil, fmt.Errorf("insert item %d: %w", ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}

	return &Session{
		ID:          sessionID,
		Source:      src,
		CollectedAt: collectedAt,
		ItemCount:   len(items),
	}, nil
}

// GetSession returns session metadata by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, "SELECT * FROM sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return &sess, nil
}

// LatestSession returns the newest session for a source, ties broken by
// highest id.
func (s *SQLiteStore) LatestSession(ctx context.Context, src source.SourceType) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT * FROM sessions
		WHERE source = ?
		ORDER BY collected_at DESC, id DESC
		LIMIT 1
	`, src)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest session for %s: %w", src, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest session for %s: %w", src, err)
	}
	return &sess, nil
}

// RecentSessions returns up to limit sessions for a source, newest first.
func (s *SQLiteStore) RecentSessions(ctx context.Context, src source.SourceType, limit int) ([]Session, error) {
	if limit <= 0 {
		return nil, validationErrorf("limit must be positive, got %d", limit)
	}

	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE source = ?
		ORDER BY collected_at DESC, id DESC
		LIMIT ?
	`, src, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions for %s: %w", src, err)
	}
	return sessions, nil
}

// SessionItems returns a session's items in commit order. It fails with
// ErrNotFound if the session does not exist or belongs to another source.
func (s *SQLiteStore) SessionItems(ctx context.Context, sessionID int64, src source.SourceType) ([]source.Item, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Source != src {
		return nil, fmt.Errorf("session %d belongs to %s, not %s: %w", sessionID, sess.Source, src, ErrNotFound)
	}

	var rows []itemRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT * FROM items
		WHERE session_id = ?
		ORDER BY ordinal
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("items for session %d: %w", sessionID, err)
	}

	items := make([]source.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

// SessionsSince returns all sessions for a source collected at or after
// since, oldest first.
func (s *SQLiteStore) SessionsSince(ctx context.Context, src source.SourceType, since time.Time) ([]Session, error) {
	var sessions []Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE source = ? AND collected_at >= ?
		ORDER BY collected_at ASC, id ASC
	`, src, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("sessions since %s for %s: %w", since.Format(time.RFC3339), src, err)
	}
	return sessions, nil
}

// Statistics aggregates session and item totals across all stored history.
func (s *SQLiteStore) Statistics(ctx context.Context) (map[source.SourceType]SourceStats, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT source, COUNT(*) AS total_sessions, SUM(item_count) AS total_items
		FROM sessions
		GROUP BY source
	`)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	defer rows.Close()

	stats := make(map[source.SourceType]SourceStats)
	for rows.Next() {
		var src string
		var st SourceStats
		if err := rows.Scan(&src, &st.TotalSessions, &st.TotalItems); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		stats[source.SourceType(src)] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for src, st := range stats {
		if err := s.db.GetContext(ctx, &st.FirstCollectedAt, `
			SELECT collected_at FROM sessions WHERE source = ? ORDER BY collected_at ASC, id ASC LIMIT 1
		`, src); err != nil {
			return nil, fmt.Errorf("first collected for %s: %w", src, err)
		}
		if err := s.db.GetContext(ctx, &st.LastCollectedAt, `
			SELECT collected_at FROM sessions WHERE source = ? ORDER BY collected_at DESC, id DESC LIMIT 1
		`, src); err != nil {
			return nil, fmt.Errorf("last collected for %s: %w", src, err)
		}
		stats[src] = st
	}
	return stats, nil
}

// AppendJobRun records one scheduler execution attempt.
func (s *SQLiteStore) AppendJobRun(ctx context.Context, run JobRunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_id, source, attempt, started_at, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.JobID, run.Source, run.Attempt, run.StartedAt.UTC(), run.Outcome, run.Error)
	if err != nil {
		return fmt.Errorf("append job run %s: %w", run.JobID, err)
	}
	return nil
}

// RecentJobRuns returns the latest run records, newest first, optionally
// filtered by job id.
func (s *SQLiteStore) RecentJobRuns(ctx context.Context, jobID string, limit int) ([]JobRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT * FROM job_runs"
	var args []any
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	var runs []JobRunRecord
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("recent job runs: %w", err)
	}
	return runs, nil
}

type itemRow struct {
	ID          int64     `db:"id"`
	SessionID   int64     `db:"session_id"`
	Ordinal     int       `db:"ordinal"`
	ExternalID  string    `db:"external_id"`
	Title       string    `db:"title"`
	URL         string    `db:"url"`
	Author      string    `db:"author"`
	Description string    `db:"description"`
	Metrics     string    `db:"metrics"`
	Extra       string    `db:"extra"`
	PublishedAt time.Time `db:"published_at"`
}

func (r itemRow) toItem() source.Item {
	item := source.Item{
		ExternalID:  r.ExternalID,
		Title:       r.Title,
		URL:         r.URL,
		Author:      r.Author,
		Description: r.Description,
		PublishedAt: r.PublishedAt,
	}
	json.Unmarshal([]byte(r.Metrics), &item.Metrics)
	json.Unmarshal([]byte(r.Extra), &item.Extra)
	if item.Metrics == nil {
		item.Metrics = map[string]float64{}
	}
	return item
}

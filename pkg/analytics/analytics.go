// Package analytics computes comparative and trend queries over stored
// collection sessions.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyunwoo/snaptrack/internal/store"
	"github.com/hyunwoo/snaptrack/pkg/source"
)

// MetricDelta describes how one tracked metric's mean moved between two
// sessions. PercentChange is nil when the older mean is zero; callers render
// it as undefined rather than dividing.
type MetricDelta struct {
	Old           float64  `json:"old"`
	New           float64  `json:"new"`
	Change        float64  `json:"change"`
	PercentChange *float64 `json:"percent_change"`
}

// Comparison is the derived delta between an older and a newer session of
// the same source. It is computed on demand and never stored.
type Comparison struct {
	Source      source.SourceType      `json:"source"`
	OlderID     int64                  `json:"older_id"`
	NewerID     int64                  `json:"newer_id"`
	OlderCount  int                    `json:"older_count"`
	NewerCount  int                    `json:"newer_count"`
	CountChange int                    `json:"count_change"`
	Metrics     map[string]MetricDelta `json:"metric_deltas"`
}

// TrendPoint is one calendar day's aggregate. Days with no sessions are
// omitted from trend results.
type TrendPoint struct {
	Date      string             `json:"date"`
	ItemCount int                `json:"item_count"`
	Averages  map[string]float64 `json:"averages"`
}

// Engine answers comparison and trend queries against a session store.
type Engine struct {
	store store.Store
}

// New creates an analytics engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Compare computes per-metric mean deltas between two sessions of the same
// source. Ordering is caller-asserted: olderID must identify the session
// collected first. Comparing a session against itself is valid and yields an
// all-zero result.
func (e *Engine) Compare(ctx context.Context, src source.SourceType, olderID, newerID int64) (*Comparison, error) {
	older, err := e.store.GetSession(ctx, olderID)
	if err != nil {
		return nil, err
	}
	newer, err := e.store.GetSession(ctx, newerID)
	if err != nil {
		return nil, err
	}

	if older.Source != src || newer.Source != src {
		return nil, &store.ValidationError{Reason: fmt.Sprintf(
			"sessions %d (%s) and %d (%s) must both belong to %s",
			olderID, older.Source, newerID, newer.Source, src)}
	}
	if older.CollectedAt.After(newer.CollectedAt) ||
		(older.CollectedAt.Equal(newer.CollectedAt) && older.ID > newer.ID) {
		return nil, &store.ValidationError{Reason: fmt.Sprintf(
			"session %d was collected after session %d; pass the older session first",
			olderID, newerID)}
	}

	olderItems, err := e.store.SessionItems(ctx, olderID, src)
	if err != nil {
		return nil, err
	}
	newerItems, err := e.store.SessionItems(ctx, newerID, src)
	if err != nil {
		return nil, err
	}

	deltas := make(map[string]MetricDelta)
	for _, name := range source.TrackedMetrics(src) {
		oldMean := metricMean(olderItems, name)
		newMean := metricMean(newerItems, name)

		delta := MetricDelta{
			Old:    oldMean,
			New:    newMean,
			Change: newMean - oldMean,
		}
		if oldMean != 0 {
			pct := delta.Change / oldMean * 100
			delta.PercentChange = &pct
		}
		deltas[name] = delta
	}

	return &Comparison{
		Source:      src,
		OlderID:     older.ID,
		NewerID:     newer.ID,
		OlderCount:  older.ItemCount,
		NewerCount:  newer.ItemCount,
		CountChange: newer.ItemCount - older.ItemCount,
		Metrics:     deltas,
	}, nil
}

// Trend aggregates the last N days of sessions into per-day summaries,
// ascending by date. Days are bucketed on UTC calendar boundaries; metric
// averages are means over every item collected that day.
func (e *Engine) Trend(ctx context.Context, src source.SourceType, days int) ([]TrendPoint, error) {
	if days <= 0 {
		return nil, &store.ValidationError{Reason: fmt.Sprintf("days must be positive, got %d", days)}
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	sessions, err := e.store.SessionsSince(ctx, src, since)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		itemCount int
		sums      map[string]float64
		n         map[string]int
	}
	tracked := source.TrackedMetrics(src)
	buckets := make(map[string]*bucket)

	for _, sess := range sessions {
		items, err := e.store.SessionItems(ctx, sess.ID, src)
		if err != nil {
			return nil, err
		}

		day := sess.CollectedAt.UTC().Format("2006-01-02")
		b := buckets[day]
		if b == nil {
			b = &bucket{sums: make(map[string]float64), n: make(map[string]int)}
			buckets[day] = b
		}

		b.itemCount += len(items)
		for _, item := range items {
			for _, name := range tracked {
				b.sums[name] += item.Metrics[name]
				b.n[name]++
			}
		}
	}

	dates := make([]string, 0, len(buckets))
	for day := range buckets {
		dates = append(dates, day)
	}
	sort.Strings(dates)

	points := make([]TrendPoint, 0, len(dates))
	for _, day := range dates {
		b := buckets[day]
		averages := make(map[string]float64, len(tracked))
		for _, name := range tracked {
			if b.n[name] > 0 {
				averages[name] = b.sums[name] / float64(b.n[name])
			}
		}
		points = append(points, TrendPoint{
			Date:      day,
			ItemCount: b.itemCount,
			Averages:  averages,
		})
	}
	return points, nil
}

func metricMean(items []source.Item, name string) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, item := range items {
		sum += item.Metrics[name]
	}
	return sum / float64(len(items))
}

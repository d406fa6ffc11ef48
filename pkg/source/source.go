package source

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// SourceType identifies which platform an item came from.
type SourceType string

const (
	SourceReddit     SourceType = "reddit"
	SourceGitHub     SourceType = "github"
	SourceHackerNews SourceType = "hackernews"
	SourceRSS        SourceType = "rss"
)

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceReddit,
		SourceGitHub,
		SourceHackerNews,
		SourceRSS,
	}
}

// Valid reports whether st is a known source type.
func (st SourceType) Valid() bool {
	switch st {
	case SourceReddit, SourceGitHub, SourceHackerNews, SourceRSS:
		return true
	}
	return false
}

// trackedMetrics maps each source to the numeric metric fields it tracks.
// Comparison and trend aggregation operate over these names, never over
// per-source branches. RSS tracks no metrics; only item counts are compared.
var trackedMetrics = map[SourceType][]string{
	SourceReddit:     {"score", "num_comments"},
	SourceGitHub:     {"stars", "forks"},
	SourceHackerNews: {"points", "num_comments"},
	SourceRSS:        {},
}

// TrackedMetrics returns the ordered metric names tracked for a source.
func TrackedMetrics(st SourceType) []string {
	return trackedMetrics[st]
}

// summaryFacets lists the Extra fields that session summaries count into
// categorical distributions. String values count once per item; string-slice
// values count each element.
var summaryFacets = map[SourceType][]string{
	SourceReddit:     {"subreddit"},
	SourceGitHub:     {"language", "license", "topics"},
	SourceHackerNews: {},
	SourceRSS:        {"feed_name", "categories"},
}

// SummaryFacets returns the Extra field names summarized for a source.
func SummaryFacets(st SourceType) []string {
	return summaryFacets[st]
}

// Item is the standardized data model for all sources. Tracked numeric
// metrics live in Metrics, keyed by the names from TrackedMetrics; anything
// else a connector wants to keep goes in Extra.
type Item struct {
	ExternalID  string             `json:"external_id"`
	Title       string             `json:"title"`
	URL         string             `json:"url"`
	Author      string             `json:"author"`
	Description string             `json:"description"`
	Metrics     map[string]float64 `json:"metrics"`
	Extra       map[string]any     `json:"extra,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
}

// Connector is the interface every collector must implement.
type Connector interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Item, error)
}

// FetchError wraps a connector or network failure. The scheduler treats
// these as retryable.
type FetchError struct {
	Source SourceType
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// truncate shortens s to at most maxLen bytes, backing up to a rune
// boundary so multi-byte characters are never split.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

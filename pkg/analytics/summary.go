package analytics

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hyunwoo/snaptrack/pkg/source"
)

// MetricStats summarizes one tracked metric's distribution within a session.
// Std is the sample standard deviation; zero when the session has one item.
type MetricStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
}

// KeywordCount is one title keyword and how many times it appeared.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Summary is the derived per-session analysis: metric statistics, categorical
// distributions over the source's summary facets, and top title keywords.
// It is computed on demand and never stored.
type Summary struct {
	Source        source.SourceType         `json:"source"`
	SessionID     int64                     `json:"session_id"`
	CollectedAt   time.Time                 `json:"collected_at"`
	ItemCount     int                       `json:"item_count"`
	MetricStats   map[string]MetricStats    `json:"metric_stats"`
	Distributions map[string]map[string]int `json:"distributions"`
	TopKeywords   []KeywordCount            `json:"top_keywords"`
}

// Summarize computes the per-session summary for one stored session. It
// fails with ErrNotFound when the session is missing or belongs to another
// source.
func (e *Engine) Summarize(ctx context.Context, src source.SourceType, sessionID int64) (*Summary, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.SessionItems(ctx, sessionID, src)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]MetricStats)
	for _, name := range source.TrackedMetrics(src) {
		values := make([]float64, len(items))
		for i, item := range items {
			values[i] = item.Metrics[name]
		}
		stats[name] = metricStats(values)
	}

	distributions := make(map[string]map[string]int)
	for _, facet := range source.SummaryFacets(src) {
		counts := facetCounts(items, facet)
		if len(counts) > 0 {
			distributions[facet] = counts
		}
	}

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = item.Title
	}

	return &Summary{
		Source:        src,
		SessionID:     sess.ID,
		CollectedAt:   sess.CollectedAt,
		ItemCount:     sess.ItemCount,
		MetricStats:   stats,
		Distributions: distributions,
		TopKeywords:   topKeywords(titles, 20),
	}, nil
}

func metricStats(values []float64) MetricStats {
	if len(values) == 0 {
		return MetricStats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var std float64
	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			sq += (v - mean) * (v - mean)
		}
		std = math.Sqrt(sq / float64(len(values)-1))
	}

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return MetricStats{
		Mean:   mean,
		Median: median,
		Std:    std,
		Max:    sorted[len(sorted)-1],
		Min:    sorted[0],
	}
}

// facetCounts tallies one Extra field across a session's items. Strings
// count once; string slices count each element.
func facetCounts(items []source.Item, facet string) map[string]int {
	counts := make(map[string]int)
	for _, item := range items {
		switch v := item.Extra[facet].(type) {
		case string:
			if v != "" {
				counts[v]++
			}
		case []string:
			for _, s := range v {
				counts[s]++
			}
		case []any:
			for _, el := range v {
				if s, ok := el.(string); ok {
					counts[s]++
				}
			}
		}
	}
	return counts
}

var keywordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

// Common words excluded from title keyword counts.
var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"are": true, "was": true, "were": true, "been": true, "have": true,
	"has": true, "had": true, "does": true, "did": true, "will": true,
	"would": true, "should": true, "could": true, "may": true, "might": true,
	"this": true, "that": true, "these": true, "those": true, "from": true,
	"its": true, "they": true, "them": true, "their": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "your": true, "you": true, "not": true, "all": true,
}

// topKeywords extracts the most frequent title words, most common first,
// ties broken alphabetically.
func topKeywords(titles []string, limit int) []KeywordCount {
	counts := make(map[string]int)
	for _, title := range titles {
		for _, word := range keywordPattern.FindAllString(strings.ToLower(title), -1) {
			if !stopwords[word] {
				counts[word]++
			}
		}
	}

	keywords := make([]KeywordCount, 0, len(counts))
	for word, n := range counts {
		keywords = append(keywords, KeywordCount{Keyword: word, Count: n})
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Count != keywords[j].Count {
			return keywords[i].Count > keywords[j].Count
		}
		return keywords[i].Keyword < keywords[j].Keyword
	})

	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

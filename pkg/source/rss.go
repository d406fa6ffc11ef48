package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSFeed is a named RSS/Atom feed URL.
type RSSFeed struct {
	Name string
	URL  string
}

// RSS collects entries from RSS/Atom feeds. Feeds carry no ranked metrics,
// so RSS sessions contribute item counts only to comparisons and trends.
type RSS struct {
	client *http.Client
	parser *gofeed.Parser
	feeds  []RSSFeed
	filter *Filter
}

// NewRSS creates a new RSS connector.
func NewRSS(feeds []RSSFeed, filter *Filter) *RSS {
	return &RSS{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		feeds:  feeds,
		filter: filter,
	}
}

func (r *RSS) Name() SourceType { return SourceRSS }

func (r *RSS) Collect(ctx context.Context) ([]Item, error) {
	var allItems []Item
	var lastErr error

	for _, feed := range r.feeds {
		items, err := r.collectFeed(ctx, feed)
		if err != nil {
			lastErr = err
			continue
		}
		allItems = append(allItems, items...)
	}

	// A run with no usable feed at all is a fetch failure; partial feed
	// failures still produce a session from whatever was readable.
	if len(allItems) == 0 && lastErr != nil {
		return nil, &FetchError{Source: SourceRSS, Err: lastErr}
	}

	return allItems, nil
}

func (r *RSS) collectFeed(ctx context.Context, feed RSSFeed) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "snaptrack/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feed.Name, err)
	}

	var items []Item
	for _, entry := range parsed.Items {
		published := time.Now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}

		if r.filter != nil && !r.filter.Matches(entry.Title+" "+entry.Description) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		externalID := entry.GUID
		if externalID == "" {
			externalID = link
		}

		items = append(items, Item{
			ExternalID:  externalID,
			Title:       entry.Title,
			URL:         link,
			Author:      author,
			Description: truncate(entry.Description, 500),
			Metrics:     map[string]float64{},
			Extra: map[string]any{
				"feed_name":  feed.Name,
				"categories": entry.Categories,
			},
			PublishedAt: published,
		})
	}

	return items, nil
}

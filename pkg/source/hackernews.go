package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

const hnBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNews collects top stories from the Hacker News Firebase API.
type HackerNews struct {
	client  *http.Client
	baseURL string
	limit   int
	filter  *Filter
}

// NewHackerNews creates a new HN connector.
func NewHackerNews(limit int, filter *Filter) *HackerNews {
	if limit <= 0 {
		limit = 100
	}
	return &HackerNews{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: hnBaseURL,
		limit:   limit,
		filter:  filter,
	}
}

func (h *HackerNews) Name() SourceType { return SourceHackerNews }

func (h *HackerNews) Collect(ctx context.Context) ([]Item, error) {
	ids, err := h.fetchTopStories(ctx)
	if err != nil {
		return nil, err
	}

	if len(ids) > h.limit {
		ids = ids[:h.limit]
	}

	type ranked struct {
		pos  int
		item Item
	}

	var (
		mu     sync.Mutex
		picked []ranked
		wg     sync.WaitGroup
		sem    = make(chan struct{}, 10) // concurrency limit
	)

	for pos, id := range ids {
		wg.Add(1)
		go func(pos, id int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			story, err := h.fetchItem(ctx, id)
			if err != nil || story == nil {
				return
			}

			if h.filter != nil && !h.filter.Matches(story.Title+" "+story.URL) {
				return
			}

			item := Item{
				ExternalID:  fmt.Sprintf("%d", story.ID),
				Title:       story.Title,
				URL:         story.URL,
				Author:      story.By,
				Description: truncate(story.Text, 500),
				Metrics: map[string]float64{
					"points":       float64(story.Score),
					"num_comments": float64(story.Descendants),
				},
				PublishedAt: time.Unix(story.Time, 0).UTC(),
			}
			if item.URL == "" {
				item.URL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
			}

			mu.Lock()
			picked = append(picked, ranked{pos: pos, item: item})
			mu.Unlock()
		}(pos, id)
	}

	wg.Wait()

	// Restore front-page order lost to concurrent fetching.
	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })

	items := make([]Item, 0, len(picked))
	for _, r := range picked {
		items = append(items, r.item)
	}
	return items, nil
}

type hnStory struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Descendants int    `json:"descendants"`
	Type        string `json:"type"`
}

func (h *HackerNews) fetchTopStories(ctx context.Context) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/topstories.json", nil)
	if err != nil {
		return nil, &FetchError{Source: SourceHackerNews, Err: err}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: SourceHackerNews, Err: fmt.Errorf("fetch top stories: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: SourceHackerNews, Err: fmt.Errorf("topstories status %d", resp.StatusCode)}
	}

	var ids []int
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, &FetchError{Source: SourceHackerNews, Err: fmt.Errorf("decode top stories: %w", err)}
	}
	return ids, nil
}

func (h *HackerNews) fetchItem(ctx context.Context, id int) (*hnStory, error) {
	url := fmt.Sprintf("%s/item/%d.json", h.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch item %d: %w", id, err)
	}
	defer resp.Body.Close()

	var story hnStory
	if err := json.NewDecoder(resp.Body).Decode(&story); err != nil {
		return nil, fmt.Errorf("decode item %d: %w", id, err)
	}

	if story.Type != "story" {
		return nil, nil
	}
	return &story, nil
}

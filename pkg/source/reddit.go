package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const redditBaseURL = "https://www.reddit.com"

// Reddit collects hot posts from a subreddit using the public JSON listing.
type Reddit struct {
	client    *http.Client
	baseURL   string
	subreddit string
	limit     int
}

// NewReddit creates a new Reddit connector.
func NewReddit(subreddit string, limit int) *Reddit {
	if subreddit == "" {
		subreddit = "python"
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return &Reddit{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   redditBaseURL,
		subreddit: subreddit,
		limit:     limit,
	}
}

func (r *Reddit) Name() SourceType { return SourceReddit }

func (r *Reddit) Collect(ctx context.Context) ([]Item, error) {
	reqURL := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", r.baseURL, r.subreddit, r.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Source: SourceReddit, Err: err}
	}
	req.Header.Set("User-Agent", "snaptrack/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: SourceReddit, Err: fmt.Errorf("fetch r/%s: %w", r.subreddit, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: SourceReddit, Err: fmt.Errorf("r/%s status %d", r.subreddit, resp.StatusCode)}
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &FetchError{Source: SourceReddit, Err: fmt.Errorf("decode r/%s: %w", r.subreddit, err)}
	}

	var items []Item
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied {
			continue
		}

		postURL := post.URL
		if postURL == "" || strings.HasPrefix(postURL, "/r/") {
			postURL = "https://reddit.com" + post.Permalink
		}

		items = append(items, Item{
			ExternalID:  post.ID,
			Title:       post.Title,
			URL:         postURL,
			Author:      post.Author,
			Description: truncate(post.Selftext, 500),
			Metrics: map[string]float64{
				"score":        float64(post.Score),
				"num_comments": float64(post.NumComments),
			},
			Extra: map[string]any{
				"subreddit":    post.Subreddit,
				"upvote_ratio": post.UpvoteRatio,
				"permalink":    "https://reddit.com" + post.Permalink,
			},
			PublishedAt: time.Unix(int64(post.CreatedUTC), 0).UTC(),
		})
	}

	return items, nil
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Stickied    bool    `json:"stickied"`
	UpvoteRatio float64 `json:"upvote_ratio"`
}

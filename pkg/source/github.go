package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const githubAPIURL = "https://api.github.com"

// GitHub collects top repositories for a language from the GitHub search API.
type GitHub struct {
	client   *http.Client
	baseURL  string
	token    string
	language string
	limit    int
}

// NewGitHub creates a new GitHub connector. An empty token means
// unauthenticated requests (lower rate limit).
func NewGitHub(token, language string, limit int) *GitHub {
	if language == "" {
		language = "python"
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return &GitHub{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  githubAPIURL,
		token:    token,
		language: language,
		limit:    limit,
	}
}

func (g *GitHub) Name() SourceType { return SourceGitHub }

func (g *GitHub) Collect(ctx context.Context) ([]Item, error) {
	params := url.Values{}
	params.Set("q", "language:"+g.language)
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", fmt.Sprintf("%d", g.limit))

	reqURL := g.baseURL + "/search/repositories?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Source: SourceGitHub, Err: err}
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "snaptrack/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: SourceGitHub, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: SourceGitHub, Err: fmt.Errorf("search API status %d", resp.StatusCode)}
	}

	var result ghSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &FetchError{Source: SourceGitHub, Err: fmt.Errorf("decode response: %w", err)}
	}

	var items []Item
	for _, repo := range result.Items {
		license := ""
		if repo.License != nil {
			license = repo.License.Name
		}

		items = append(items, Item{
			ExternalID:  repo.FullName,
			Title:       repo.FullName,
			URL:         repo.HTMLURL,
			Author:      repo.Owner.Login,
			Description: truncate(repo.Description, 500),
			Metrics: map[string]float64{
				"stars": float64(repo.Stars),
				"forks": float64(repo.Forks),
			},
			Extra: map[string]any{
				"language":    repo.Language,
				"watchers":    repo.Watchers,
				"open_issues": repo.OpenIssues,
				"topics":      repo.Topics,
				"license":     license,
			},
			PublishedAt: repo.CreatedAt,
		})
	}

	return items, nil
}

type ghSearchResult struct {
	TotalCount int      `json:"total_count"`
	Items      []ghRepo `json:"items"`
}

type ghRepo struct {
	FullName    string     `json:"full_name"`
	HTMLURL     string     `json:"html_url"`
	Description string     `json:"description"`
	Stars       int        `json:"stargazers_count"`
	Forks       int        `json:"forks_count"`
	Watchers    int        `json:"watchers_count"`
	OpenIssues  int        `json:"open_issues_count"`
	Language    string     `json:"language"`
	Topics      []string   `json:"topics"`
	CreatedAt   time.Time  `json:"created_at"`
	Owner       ghOwner    `json:"owner"`
	License     *ghLicense `json:"license"`
}

type ghOwner struct {
	Login string `json:"login"`
}

type ghLicense struct {
	Name string `json:"name"`
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"aipulse/config"
)

const (
	redditBaseURL       = "https://www.reddit.com"
	redditUserAgent     = "AI_Pulse_Dashboard/1.0"
	redditSelftextRunes = 400
)

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title      string  `json:"title"`
	Permalink  string  `json:"permalink"`
	URL        string  `json:"url"`
	Selftext   string  `json:"selftext"`
	Author     string  `json:"author"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	Thumbnail  string  `json:"thumbnail"`
}

// RedditFetcher reads new posts from the public listing endpoint of each
// configured subreddit. No credentials are needed; the endpoint serves
// the newest posts to any client with a distinct User-Agent.
type RedditFetcher struct {
	name       string
	subreddits []string
	minScore   int
	limit      int
	tags       []string
	client     *http.Client
	baseURL    string
	userAgent  string
	pause      time.Duration
}

// NewReddit creates a fetcher for one configured reddit source.
func NewReddit(sc config.SourceConfig, client *http.Client) *RedditFetcher {
	return NewRedditWithBaseURL(sc, client, redditBaseURL)
}

// NewRedditWithBaseURL creates a reddit fetcher against a custom endpoint (for testing).
func NewRedditWithBaseURL(sc config.SourceConfig, client *http.Client, baseURL string) *RedditFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	limit := sc.Limit
	if limit <= 0 {
		limit = 25
	}
	return &RedditFetcher{
		name:       sc.Name,
		subreddits: sc.Subreddits,
		minScore:   sc.MinScore,
		limit:      limit,
		tags:       sc.Tags,
		client:     client,
		baseURL:    baseURL,
		userAgent:  redditUserAgent,
		pause:      time.Second,
	}
}

func (f *RedditFetcher) Name() string { return f.name }

// Fetch collects new posts across all configured subreddits. A single
// subreddit failing is logged and skipped; Fetch errors only when every
// subreddit fails.
func (f *RedditFetcher) Fetch(ctx context.Context) ([]Candidate, error) {
	var candidates []Candidate
	failures := 0
	for i, sub := range f.subreddits {
		if i > 0 && f.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.pause):
			}
		}

		posts, err := f.fetchSubreddit(ctx, sub)
		if err != nil {
			slog.Warn("subreddit fetch failed", "source", f.name, "subreddit", sub, "error", err)
			failures++
			continue
		}
		candidates = append(candidates, posts...)
	}

	if len(f.subreddits) > 0 && failures == len(f.subreddits) {
		return nil, fmt.Errorf("source %s: all %d subreddits failed", f.name, failures)
	}
	return candidates, nil
}

func (f *RedditFetcher) fetchSubreddit(ctx context.Context, sub string) ([]Candidate, error) {
	listURL := fmt.Sprintf("%s/r/%s/new.json?limit=%d", f.baseURL, sub, f.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating listing request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching r/%s: %w", sub, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("r/%s returned status %d", sub, resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decoding r/%s listing: %w", sub, err)
	}

	var out []Candidate
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Score < f.minScore {
			continue
		}

		summary := truncateRunes(post.Selftext, redditSelftextRunes)
		if summary == "" {
			summary = fmt.Sprintf("[Link Post] %s", post.URL)
		}

		author := post.Author
		if author == "" {
			author = "Unknown"
		}

		// The subreddit tag slots in after the leading source label.
		tags := slices.Insert(slices.Clone(f.tags), min(1, len(f.tags)), "r/"+sub)

		c := Candidate{
			Title:     post.Title,
			Link:      f.baseURL + post.Permalink,
			Summary:   summary,
			Author:    author,
			Tags:      tags,
			Published: time.Unix(int64(post.CreatedUTC), 0).UTC(),
		}
		if strings.HasPrefix(post.Thumbnail, "http") {
			c.ImageURL = post.Thumbnail
		}
		out = append(out, c)
	}
	return out, nil
}

package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"aipulse/config"
)

const (
	archiveFallbackLimit = 5
	archiveMinTitleRunes = 10
)

// RSSFetcher reads a newsletter feed, trying each configured URL in order
// until one yields entries. Newsletters migrate hosts often enough that a
// single feed URL goes stale; when every feed fails, the archive page is
// scraped instead, where publish times are unavailable.
type RSSFetcher struct {
	name          string
	feedURLs      []string
	archiveURL    string
	defaultAuthor string
	tags          []string
	client        *http.Client
	userAgent     string
}

// NewRSS creates a feed fetcher for one configured RSS source.
func NewRSS(sc config.SourceConfig, client *http.Client, userAgent string) *RSSFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &RSSFetcher{
		name:          sc.Name,
		feedURLs:      sc.FeedURLs,
		archiveURL:    sc.ArchiveURL,
		defaultAuthor: sc.DefaultAuthor,
		tags:          sc.Tags,
		client:        client,
		userAgent:     userAgent,
	}
}

func (f *RSSFetcher) Name() string { return f.name }

// Fetch returns candidates from the first feed URL that produces entries,
// falling back to the archive page when none do.
func (f *RSSFetcher) Fetch(ctx context.Context) ([]Candidate, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = f.userAgent

	for _, feedURL := range f.feedURLs {
		feed, err := parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			slog.Debug("feed unavailable", "source", f.name, "url", feedURL, "error", err)
			continue
		}
		if len(feed.Items) == 0 {
			continue
		}
		slog.Info("feed found", "source", f.name, "url", feedURL, "entries", len(feed.Items))
		return f.fromFeed(feed), nil
	}

	if f.archiveURL == "" {
		return nil, fmt.Errorf("source %s: no feed responded and no archive fallback configured", f.name)
	}
	return f.fromArchive(ctx)
}

func (f *RSSFetcher) fromFeed(feed *gofeed.Feed) []Candidate {
	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		c := Candidate{
			Title:   item.Title,
			Link:    item.Link,
			Summary: item.Description,
			Author:  f.defaultAuthor,
			Tags:    f.tags,
		}
		if item.Author != nil && item.Author.Name != "" {
			c.Author = item.Author.Name
		}
		if item.PublishedParsed != nil {
			c.Published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			c.Published = *item.UpdatedParsed
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// fromArchive harvests recent post links from the archive page. The list
// page carries no publish dates, so candidates leave Published zero and
// the normalizer stamps them with the ingestion time.
func (f *RSSFetcher) fromArchive(ctx context.Context) ([]Candidate, error) {
	slog.Info("falling back to archive scrape", "source", f.name, "url", f.archiveURL)

	doc, err := fetchDocument(ctx, f.client, f.archiveURL, f.userAgent)
	if err != nil {
		return nil, fmt.Errorf("source %s: archive fallback: %w", f.name, err)
	}

	base, err := url.Parse(f.archiveURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse archive url: %w", f.name, err)
	}

	var candidates []Candidate
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, "/p/") || seen[href] {
			return true
		}
		seen[href] = true

		full := resolveLink(base, href)
		if full == "" {
			return true
		}
		title := collapseText(sel.Text())
		if utf8.RuneCountInString(title) < archiveMinTitleRunes {
			return true
		}

		candidates = append(candidates, Candidate{
			Title:   title,
			Link:    full,
			Summary: "Visit article for full content.",
			Author:  f.defaultAuthor,
			Tags:    f.tags,
		})
		return len(candidates) < archiveFallbackLimit
	})

	return candidates, nil
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL, userAgent string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	return doc, nil
}

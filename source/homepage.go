package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"aipulse/config"
)

const (
	homepageMinTitleRunes = 8
	maxExcerptRunes       = 500
	maxPageBytes          = 2 << 20
)

// HomepageFetcher harvests article links from a site's front page and
// visits each article page for its metadata. Sites without a feed expose
// publish time, description and image only through meta tags.
type HomepageFetcher struct {
	name           string
	pageURL        string
	maxArticles    int
	defaultAuthor  string
	defaultSummary string
	tags           []string
	client         *http.Client
	userAgent      string
	pause          time.Duration
}

// NewHomepage creates a fetcher for one configured homepage source.
func NewHomepage(sc config.SourceConfig, client *http.Client, userAgent string) *HomepageFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	maxArticles := sc.MaxArticles
	if maxArticles <= 0 {
		maxArticles = 10
	}
	return &HomepageFetcher{
		name:           sc.Name,
		pageURL:        sc.URL,
		maxArticles:    maxArticles,
		defaultAuthor:  sc.DefaultAuthor,
		defaultSummary: sc.DefaultSummary,
		tags:           sc.Tags,
		client:         client,
		userAgent:      userAgent,
		pause:          500 * time.Millisecond,
	}
}

func (f *HomepageFetcher) Name() string { return f.name }

// Fetch scans the front page for article links, then visits each article
// up to the configured cap. Article pages that fail to load still yield a
// candidate with the source's default summary.
func (f *HomepageFetcher) Fetch(ctx context.Context) ([]Candidate, error) {
	doc, err := fetchDocument(ctx, f.client, f.pageURL, f.userAgent)
	if err != nil {
		return nil, fmt.Errorf("source %s: homepage: %w", f.name, err)
	}

	base, err := url.Parse(f.pageURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse homepage url: %w", f.name, err)
	}

	type pageLink struct {
		url   string
		title string
	}
	var links []pageLink
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, "/p/") {
			return true
		}
		full := resolveLink(base, href)
		if full == "" || seen[full] {
			return true
		}
		seen[full] = true

		title := collapseText(sel.Text())
		if utf8.RuneCountInString(title) < homepageMinTitleRunes {
			title = collapseText(sel.Closest("h1, h2, h3, h4").Text())
		}
		if utf8.RuneCountInString(title) < homepageMinTitleRunes {
			return true
		}

		links = append(links, pageLink{url: full, title: title})
		return len(links) < f.maxArticles
	})

	candidates := make([]Candidate, 0, len(links))
	for i, ln := range links {
		if i > 0 && f.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.pause):
			}
		}

		c := Candidate{
			Title:   ln.title,
			Link:    ln.url,
			Summary: f.defaultSummary,
			Author:  f.defaultAuthor,
			Tags:    f.tags,
		}
		f.fillFromArticlePage(ctx, ln.url, &c)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// fillFromArticlePage overwrites the candidate's summary, image and publish
// time with whatever metadata the article page exposes. Failures leave the
// defaults in place.
func (f *HomepageFetcher) fillFromArticlePage(ctx context.Context, pageURL string, c *Candidate) {
	body, err := f.fetchPage(ctx, pageURL)
	if err != nil {
		slog.Debug("article page fetch failed", "source", f.name, "url", pageURL, "error", err)
		return
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		slog.Debug("article page parse failed", "source", f.name, "url", pageURL, "error", err)
		return
	}

	if raw := firstMetaContent(doc,
		`meta[property="article:published_time"]`,
		`meta[name="publish_date"]`,
		`meta[property="og:article:published_time"]`,
	); raw != "" {
		c.PublishedRaw = raw
	}

	if desc := firstMetaContent(doc,
		`meta[property="og:description"]`,
		`meta[name="description"]`,
	); desc != "" {
		c.Summary = desc
	} else if excerpt := readableExcerpt(body); excerpt != "" {
		c.Summary = excerpt
	}

	if img := firstMetaContent(doc, `meta[property="og:image"]`); img != "" {
		c.ImageURL = img
	}
}

func (f *HomepageFetcher) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", pageURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func firstMetaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if c := strings.TrimSpace(content); c != "" {
				return c
			}
		}
	}
	return ""
}

// readableExcerpt extracts the leading article text for pages that carry
// no description meta tag.
func readableExcerpt(body []byte) string {
	article, err := readability.FromReader(bytes.NewReader(body), nil)
	if err != nil {
		return ""
	}
	return truncateRunes(collapseText(article.TextContent), maxExcerptRunes)
}

// Package source fetches raw article candidates from the configured
// upstream sites. Fetchers return what each site reports without cleaning
// it up; the normalize package turns candidates into store records.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"aipulse/config"
)

// Candidate is one raw article as a source reported it. Zero values mean
// the source did not provide the field. Published carries a publish time
// the source reported as a timestamp; PublishedRaw carries one it reported
// as text. Both zero means no publish time was reported at all.
type Candidate struct {
	Title        string
	Link         string
	Summary      string
	Author       string
	ImageURL     string
	Tags         []string
	Published    time.Time
	PublishedRaw string
}

// Fetcher retrieves candidates from one upstream source.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]Candidate, error)
}

// Result pairs one fetcher's output with its error.
type Result struct {
	Source     string
	Candidates []Candidate
	Err        error
}

// FetchAll runs every fetcher concurrently and returns results in fetcher
// order. A failing source yields a Result with Err set and never affects
// its siblings.
func FetchAll(ctx context.Context, fetchers []Fetcher) []Result {
	results := make([]Result, len(fetchers))
	var wg sync.WaitGroup
	for i, f := range fetchers {
		wg.Add(1)
		go func(i int, f Fetcher) {
			defer wg.Done()
			start := time.Now()
			candidates, err := f.Fetch(ctx)
			results[i] = Result{Source: f.Name(), Candidates: candidates, Err: err}
			if err != nil {
				slog.Warn("source fetch failed", "source", f.Name(), "error", err)
				return
			}
			slog.Info("source fetch complete",
				"source", f.Name(),
				"candidates", len(candidates),
				"elapsed", time.Since(start).Round(time.Millisecond))
		}(i, f)
	}
	wg.Wait()
	return results
}

// FromConfig builds one fetcher per configured source, sharing an HTTP
// client bounded by the fetch timeout.
func FromConfig(cfg *config.Config) ([]Fetcher, error) {
	client := &http.Client{Timeout: cfg.FetchTimeout()}
	fetchers := make([]Fetcher, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		switch sc.Type {
		case config.TypeRSS:
			fetchers = append(fetchers, NewRSS(sc, client, cfg.UserAgent))
		case config.TypeHomepage:
			fetchers = append(fetchers, NewHomepage(sc, client, cfg.UserAgent))
		case config.TypeReddit:
			fetchers = append(fetchers, NewReddit(sc, client))
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", sc.Name, sc.Type)
		}
	}
	return fetchers, nil
}

func resolveLink(base *url.URL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func collapseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

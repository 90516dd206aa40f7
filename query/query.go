// Package query answers read-only questions over a store snapshot. All
// functions are pure so the HTTP layer can serve them without coordination.
package query

import (
	"sort"
	"time"

	"aipulse/store"
)

// Stats summarizes the store for the dashboard. Sources counts articles
// per source within the current feed window, not over the whole store.
type Stats struct {
	TotalArticles int            `json:"total_articles"`
	TodayCount    int            `json:"today_count"`
	SavedCount    int            `json:"saved_count"`
	Sources       map[string]int `json:"sources"`
	LastRun       *time.Time     `json:"last_run"`
	RunCount      int            `json:"run_count"`
}

// TodayFeed returns articles published within the lookback window, newest
// first. The window must match the one ingestion filtered with, otherwise
// the feed silently drops or resurrects articles.
func TodayFeed(doc store.Document, lookback time.Duration, now time.Time) []store.Article {
	cutoff := now.Add(-lookback)
	feed := make([]store.Article, 0)
	for _, a := range doc.Articles {
		if !a.PublishedAt.Before(cutoff) {
			feed = append(feed, a)
		}
	}
	sort.Slice(feed, func(i, j int) bool {
		return feed[i].PublishedAt.After(feed[j].PublishedAt)
	})
	return feed
}

// Saved returns saved articles, most recently saved first.
func Saved(doc store.Document) []store.Article {
	saved := make([]store.Article, 0)
	for _, a := range doc.Articles {
		if a.Saved {
			saved = append(saved, a)
		}
	}
	sort.Slice(saved, func(i, j int) bool {
		return savedTime(saved[i]).After(savedTime(saved[j]))
	})
	return saved
}

func savedTime(a store.Article) time.Time {
	if a.SavedAt == nil {
		return time.Time{}
	}
	return *a.SavedAt
}

// BuildStats computes the dashboard statistics from one snapshot.
func BuildStats(doc store.Document, lookback time.Duration, now time.Time) Stats {
	feed := TodayFeed(doc, lookback, now)

	sources := make(map[string]int)
	for _, a := range feed {
		src := a.Source
		if src == "" {
			src = "unknown"
		}
		sources[src]++
	}

	savedCount := 0
	for _, a := range doc.Articles {
		if a.Saved {
			savedCount++
		}
	}

	return Stats{
		TotalArticles: len(doc.Articles),
		TodayCount:    len(feed),
		SavedCount:    savedCount,
		Sources:       sources,
		LastRun:       doc.LastRun,
		RunCount:      doc.RunCount,
	}
}

package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"aipulse/source"
)

func newTestNormalizer(t *testing.T) (*Normalizer, time.Time) {
	t.Helper()
	n := New(24 * time.Hour)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }
	return n, fixed
}

func TestNormalize(t *testing.T) {
	n, now := newTestNormalizer(t)

	c := source.Candidate{
		Title:     "  Big Release  ",
		Link:      "https://example.com/post?utm_source=tw&id=7",
		Summary:   "<p>Hello <b>world</b> &amp; friends</p>",
		Author:    "Jane",
		ImageURL:  "https://cdn.example.com/i.png",
		Tags:      []string{"AI"},
		Published: now.Add(-2 * time.Hour),
	}

	a, err := n.Normalize(c, "bensbites")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.URL != "https://example.com/post?id=7" {
		t.Errorf("URL = %q, want tracking params stripped", a.URL)
	}
	if a.ID != ID("https://example.com/post?id=7") {
		t.Errorf("ID not derived from canonical URL")
	}
	if len(a.ID) != 64 {
		t.Errorf("ID length = %d, want 64 hex chars", len(a.ID))
	}
	if a.Title != "Big Release" {
		t.Errorf("Title = %q, want trimmed", a.Title)
	}
	if a.Summary != "Hello world & friends" {
		t.Errorf("Summary = %q, want markup stripped", a.Summary)
	}
	if a.Source != "bensbites" {
		t.Errorf("Source = %q", a.Source)
	}
	if !a.PublishedAt.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("PublishedAt = %v", a.PublishedAt)
	}
	if !a.ScrapedAt.Equal(now) {
		t.Errorf("ScrapedAt = %v, want %v", a.ScrapedAt, now)
	}
	if a.ImageURL == nil || *a.ImageURL != "https://cdn.example.com/i.png" {
		t.Errorf("ImageURL = %v", a.ImageURL)
	}
	if a.Saved || a.SavedAt != nil {
		t.Error("new articles must start unsaved")
	}
}

func TestNormalize_SameURLDifferentTracking(t *testing.T) {
	n, now := newTestNormalizer(t)

	base := source.Candidate{
		Title:     "Shared Story",
		Published: now.Add(-time.Hour),
	}
	links := []string{
		"https://example.com/story",
		"https://example.com/story?utm_source=newsletter&utm_campaign=x",
		"https://example.com/story?fbclid=abc123",
		"https://example.com/story#section-2",
	}

	var ids []string
	for _, link := range links {
		c := base
		c.Link = link
		a, err := n.Normalize(c, "reddit")
		if err != nil {
			t.Fatalf("Normalize(%q): %v", link, err)
		}
		ids = append(ids, a.ID)
	}
	for i, id := range ids {
		if id != ids[0] {
			t.Errorf("link %d produced a different id", i)
		}
	}
}

func TestNormalize_NoURL(t *testing.T) {
	n, _ := newTestNormalizer(t)
	for _, link := range []string{"", "   ", "not a url", "/relative/only"} {
		_, err := n.Normalize(source.Candidate{Title: "x", Link: link}, "reddit")
		if !errors.Is(err, ErrNoURL) {
			t.Errorf("Normalize(link=%q) error = %v, want ErrNoURL", link, err)
		}
	}
}

func TestNormalize_StaleRejected(t *testing.T) {
	n, now := newTestNormalizer(t)
	c := source.Candidate{
		Title:     "Old News",
		Link:      "https://example.com/old",
		Published: now.Add(-25 * time.Hour),
	}
	_, err := n.Normalize(c, "reddit")
	if !errors.Is(err, ErrStale) {
		t.Errorf("error = %v, want ErrStale", err)
	}

	// Exactly at the cutoff is still accepted.
	c.Published = now.Add(-24 * time.Hour)
	if _, err := n.Normalize(c, "reddit"); err != nil {
		t.Errorf("boundary publish time rejected: %v", err)
	}
}

func TestNormalize_PublishedRawParsed(t *testing.T) {
	n, _ := newTestNormalizer(t)
	c := source.Candidate{
		Title:        "Meta Dated",
		Link:         "https://example.com/meta",
		PublishedRaw: "2024-06-01T08:30:00Z",
	}
	a, err := n.Normalize(c, "therundown")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	if !a.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, want)
	}
}

func TestNormalize_MissingPublishTimeUsesIngestionTime(t *testing.T) {
	n, now := newTestNormalizer(t)

	tests := []struct {
		name string
		c    source.Candidate
	}{
		{"no time at all", source.Candidate{Title: "t", Link: "https://e.com/a"}},
		{"unparseable raw", source.Candidate{Title: "t", Link: "https://e.com/b", PublishedRaw: "yesterday-ish maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := n.Normalize(tt.c, "bensbites")
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !a.PublishedAt.Equal(now) {
				t.Errorf("PublishedAt = %v, want ingestion time %v", a.PublishedAt, now)
			}
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	n, _ := newTestNormalizer(t)
	a, err := n.Normalize(source.Candidate{Link: "https://example.com/bare"}, "reddit")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if a.Title != "Untitled" {
		t.Errorf("Title = %q, want Untitled", a.Title)
	}
	if a.Tags == nil {
		t.Error("Tags must never be nil")
	}
	if a.ImageURL != nil {
		t.Errorf("ImageURL = %v, want nil for absent image", a.ImageURL)
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://e.com/p", "https://e.com/p"},
		{"https://e.com/p?utm_source=x&utm_medium=y", "https://e.com/p"},
		{"https://e.com/p?b=2&a=1", "https://e.com/p?a=1&b=2"},
		{"https://e.com/p?gclid=1&keep=yes", "https://e.com/p?keep=yes"},
		{"https://e.com/p?ref=home", "https://e.com/p"},
		{"https://e.com/p?UTM_Source=x", "https://e.com/p"},
		{"https://e.com/p#frag", "https://e.com/p"},
		{"  https://e.com/p  ", "https://e.com/p"},
	}
	for _, tt := range tests {
		got, err := CanonicalURL(tt.in)
		if err != nil {
			t.Errorf("CanonicalURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestID_Deterministic(t *testing.T) {
	a := ID("https://example.com/x")
	b := ID("https://example.com/x")
	if a != b {
		t.Error("same URL produced different ids")
	}
	if a == ID("https://example.com/y") {
		t.Error("different URLs produced the same id")
	}
}

func TestSummary(t *testing.T) {
	t.Run("strips tags and collapses whitespace", func(t *testing.T) {
		got := Summary("<div>\n  First   line<br/>second &lt;tag&gt;  </div>")
		if got != "First line second <tag>" {
			t.Errorf("Summary = %q", got)
		}
	})

	t.Run("truncates long text", func(t *testing.T) {
		long := strings.Repeat("word ", 200)
		got := Summary(long)
		if n := len([]rune(got)); n != maxSummaryRunes {
			t.Errorf("summary length = %d, want %d", n, maxSummaryRunes)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := Summary(""); got != "" {
			t.Errorf("Summary(\"\") = %q", got)
		}
	})
}

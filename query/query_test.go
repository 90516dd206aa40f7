package query

import (
	"testing"
	"time"

	"aipulse/store"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func articleAt(id, source string, published time.Time) store.Article {
	return store.Article{
		ID:          id,
		Source:      source,
		Title:       "Title " + id,
		URL:         "https://example.com/" + id,
		PublishedAt: published,
		ScrapedAt:   published,
		Tags:        []string{},
	}
}

func savedArticle(id string, published, savedAt time.Time) store.Article {
	a := articleAt(id, "reddit", published)
	a.Saved = true
	a.SavedAt = &savedAt
	return a
}

func TestTodayFeed(t *testing.T) {
	doc := store.Document{Articles: []store.Article{
		articleAt("old", "reddit", testNow.Add(-30*time.Hour)),
		articleAt("older-in-window", "bensbites", testNow.Add(-20*time.Hour)),
		articleAt("fresh", "reddit", testNow.Add(-1*time.Hour)),
		articleAt("boundary", "reddit", testNow.Add(-24*time.Hour)),
	}}

	feed := TodayFeed(doc, 24*time.Hour, testNow)
	if len(feed) != 3 {
		t.Fatalf("feed size = %d, want 3", len(feed))
	}
	wantOrder := []string{"fresh", "older-in-window", "boundary"}
	for i, want := range wantOrder {
		if feed[i].ID != want {
			t.Errorf("feed[%d] = %s, want %s", i, feed[i].ID, want)
		}
	}
}

func TestTodayFeed_Empty(t *testing.T) {
	feed := TodayFeed(store.Document{}, 24*time.Hour, testNow)
	if feed == nil {
		t.Error("feed must be an empty slice, not nil")
	}
	if len(feed) != 0 {
		t.Errorf("feed size = %d, want 0", len(feed))
	}
}

func TestSaved(t *testing.T) {
	doc := store.Document{Articles: []store.Article{
		savedArticle("first-saved", testNow.Add(-10*time.Hour), testNow.Add(-5*time.Hour)),
		articleAt("unsaved", "reddit", testNow.Add(-2*time.Hour)),
		savedArticle("last-saved", testNow.Add(-9*time.Hour), testNow.Add(-1*time.Hour)),
	}}

	saved := Saved(doc)
	if len(saved) != 2 {
		t.Fatalf("saved size = %d, want 2", len(saved))
	}
	if saved[0].ID != "last-saved" || saved[1].ID != "first-saved" {
		t.Errorf("saved order = %s, %s; want most recently saved first", saved[0].ID, saved[1].ID)
	}
}

func TestSaved_NilSavedAt(t *testing.T) {
	broken := articleAt("flagged-only", "reddit", testNow)
	broken.Saved = true
	doc := store.Document{Articles: []store.Article{
		broken,
		savedArticle("dated", testNow.Add(-time.Hour), testNow),
	}}

	saved := Saved(doc)
	if len(saved) != 2 {
		t.Fatalf("saved size = %d, want 2", len(saved))
	}
	if saved[0].ID != "dated" {
		t.Errorf("article with nil saved_at should sort last, got %s first", saved[0].ID)
	}
}

func TestBuildStats(t *testing.T) {
	lastRun := testNow.Add(-time.Hour)
	doc := store.Document{
		Articles: []store.Article{
			articleAt("r1", "reddit", testNow.Add(-2*time.Hour)),
			articleAt("r2", "reddit", testNow.Add(-3*time.Hour)),
			articleAt("b1", "bensbites", testNow.Add(-4*time.Hour)),
			articleAt("ancient", "bensbites", testNow.Add(-48*time.Hour)),
			savedArticle("s1", testNow.Add(-50*time.Hour), testNow.Add(-time.Hour)),
		},
		LastRun:  &lastRun,
		RunCount: 7,
	}

	stats := BuildStats(doc, 24*time.Hour, testNow)
	if stats.TotalArticles != 5 {
		t.Errorf("TotalArticles = %d, want 5", stats.TotalArticles)
	}
	if stats.TodayCount != 3 {
		t.Errorf("TodayCount = %d, want 3", stats.TodayCount)
	}
	if stats.SavedCount != 1 {
		t.Errorf("SavedCount = %d, want 1", stats.SavedCount)
	}
	if stats.Sources["reddit"] != 2 || stats.Sources["bensbites"] != 1 {
		t.Errorf("Sources = %v, want reddit:2 bensbites:1 within the window", stats.Sources)
	}
	if stats.LastRun == nil || !stats.LastRun.Equal(lastRun) {
		t.Errorf("LastRun = %v, want %v", stats.LastRun, lastRun)
	}
	if stats.RunCount != 7 {
		t.Errorf("RunCount = %d, want 7", stats.RunCount)
	}
}

func TestBuildStats_EmptyStore(t *testing.T) {
	stats := BuildStats(store.Document{}, 24*time.Hour, testNow)
	if stats.TotalArticles != 0 || stats.TodayCount != 0 || stats.SavedCount != 0 {
		t.Errorf("empty store stats = %+v", stats)
	}
	if stats.LastRun != nil {
		t.Errorf("LastRun = %v, want nil before first run", stats.LastRun)
	}
}

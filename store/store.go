package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Article is the canonical record every source is normalized into. The JSON
// field names are the persisted document contract; ImageURL and SavedAt are
// pointers so absence round-trips as null rather than a zero value.
type Article struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	URL         string     `json:"url"`
	PublishedAt time.Time  `json:"published_at"`
	ScrapedAt   time.Time  `json:"scraped_at"`
	Author      string     `json:"author"`
	Tags        []string   `json:"tags"`
	ImageURL    *string    `json:"image_url"`
	Saved       bool       `json:"saved"`
	SavedAt     *time.Time `json:"saved_at"`
}

// Document is the full on-disk store: every known article plus run metadata.
type Document struct {
	Articles []Article  `json:"articles"`
	LastRun  *time.Time `json:"last_run"`
	RunCount int        `json:"run_count"`
}

// Batch is one source's normalized articles, tagged with the source name.
// Merge consumes batches in slice order, which fixes the winner when two
// sources produce the same article id in a single run.
type Batch struct {
	Source   string
	Articles []Article
}

// MergeSummary reports what a merge changed.
type MergeSummary struct {
	NewArticles   int
	TotalArticles int
	PerSource     map[string]int
	LastRun       time.Time
	RunCount      int
}

// Local is the file-backed article store. All mutations funnel through a
// single mutex and commit by atomic whole-file replace, so readers never
// observe a partially written document.
type Local struct {
	mu         sync.Mutex
	path       string
	backupPath string
	now        func() time.Time
}

// New returns a store rooted at path. The corruption backup lives alongside
// it with a .backup.json suffix.
func New(path string) *Local {
	return &Local{
		path:       path,
		backupPath: backupPath(path),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func backupPath(path string) string {
	if strings.HasSuffix(path, ".json") {
		return strings.TrimSuffix(path, ".json") + ".backup.json"
	}
	return path + ".backup"
}

// Snapshot returns the current document for readers. The copy is shallow;
// callers must not mutate the returned articles.
func (l *Local) Snapshot() (Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// load reads the document from disk. A missing file yields an empty store.
// A file that fails to parse is preserved as a backup copy and replaced with
// an empty store; corruption is never fatal to the caller.
func (l *Local) load() (Document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{Articles: []Article{}}, nil
		}
		return Document{}, fmt.Errorf("store: read %s: %w", l.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("store file corrupted, backing up and resetting", "path", l.path, "error", err)
		if werr := os.WriteFile(l.backupPath, data, 0644); werr != nil {
			return Document{}, fmt.Errorf("store: back up corrupt file: %w", werr)
		}
		return Document{Articles: []Article{}}, nil
	}

	if doc.Articles == nil {
		doc.Articles = []Article{}
	}
	return doc, nil
}

// commit writes the document to disk atomically: marshal to a temp file in
// the same directory, then rename over the live path.
func (l *Local) commit(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal document: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("store: create data dir: %w", err)
		}
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", l.path, err)
	}
	return nil
}

// Merge appends every article whose id is not already present, in batch
// order, then bumps the run metadata and commits. Articles with empty or
// duplicate ids are skipped, which makes re-merging the same batches a
// no-op apart from the run counter.
func (l *Local) Merge(batches []Batch) (MergeSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return MergeSummary{}, err
	}

	existing := make(map[string]bool, len(doc.Articles))
	for _, a := range doc.Articles {
		existing[a.ID] = true
	}

	perSource := make(map[string]int, len(batches))
	newCount := 0
	for _, b := range batches {
		for _, a := range b.Articles {
			if a.ID == "" || existing[a.ID] {
				continue
			}
			doc.Articles = append(doc.Articles, a)
			existing[a.ID] = true
			perSource[b.Source]++
			newCount++
		}
	}

	now := l.now()
	doc.LastRun = &now
	doc.RunCount++

	if err := l.commit(doc); err != nil {
		return MergeSummary{}, err
	}

	slog.Info("merge complete", "new", newCount, "total", len(doc.Articles), "run_count", doc.RunCount)
	return MergeSummary{
		NewArticles:   newCount,
		TotalArticles: len(doc.Articles),
		PerSource:     perSource,
		LastRun:       now,
		RunCount:      doc.RunCount,
	}, nil
}

// SaveArticle marks an article as saved and stamps saved_at. It reports
// false with a nil error when the id is unknown.
func (l *Local) SaveArticle(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return false, err
	}

	for i := range doc.Articles {
		if doc.Articles[i].ID != id {
			continue
		}
		now := l.now()
		doc.Articles[i].Saved = true
		doc.Articles[i].SavedAt = &now
		if err := l.commit(doc); err != nil {
			return false, err
		}
		slog.Info("article saved", "id", shortID(id))
		return true, nil
	}

	slog.Warn("article not found for save", "id", shortID(id))
	return false, nil
}

// UnsaveArticle removes an article from the store entirely. Un-saving is a
// hard delete, not a flag flip; the id only returns if a later ingestion
// run rediscovers the URL.
func (l *Local) UnsaveArticle(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return false, err
	}

	kept := doc.Articles[:0]
	for _, a := range doc.Articles {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(doc.Articles) {
		slog.Warn("article not found for delete", "id", shortID(id))
		return false, nil
	}
	doc.Articles = kept

	if err := l.commit(doc); err != nil {
		return false, err
	}
	slog.Info("article hard-deleted", "id", shortID(id))
	return true, nil
}

// Reconcile merges rows pulled from the remote mirror into the store.
// Unknown ids are appended as-is; for known ids the remote saved state
// wins. Reports how many articles were added.
func (l *Local) Reconcile(remote []Article) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return 0, err
	}

	index := make(map[string]int, len(doc.Articles))
	for i, a := range doc.Articles {
		index[a.ID] = i
	}

	added := 0
	for _, r := range remote {
		if r.ID == "" {
			continue
		}
		if i, ok := index[r.ID]; ok {
			doc.Articles[i].Saved = r.Saved
			doc.Articles[i].SavedAt = r.SavedAt
			continue
		}
		doc.Articles = append(doc.Articles, r)
		index[r.ID] = len(doc.Articles) - 1
		added++
	}

	if err := l.commit(doc); err != nil {
		return 0, err
	}

	slog.Info("store reconciled with mirror", "added", added, "total", len(doc.Articles))
	return added, nil
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}

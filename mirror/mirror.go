// Package mirror pushes local store mutations to a remote Postgres copy.
// The mirror is best effort: the local commit is the success boundary,
// every remote failure is logged and swallowed, and there is no retry
// queue. A full re-sync repairs any drift because upserts key on id.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"aipulse/config"
	"aipulse/runlog"
	"aipulse/store"
)

const upsertColumns = 12

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT,
	url TEXT NOT NULL,
	published_at TIMESTAMPTZ,
	scraped_at TIMESTAMPTZ NOT NULL,
	author TEXT,
	tags JSONB NOT NULL DEFAULT '[]',
	image_url TEXT,
	saved BOOLEAN NOT NULL DEFAULT FALSE,
	saved_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id SERIAL PRIMARY KEY,
	run_at TIMESTAMPTZ NOT NULL,
	elapsed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_counts JSONB NOT NULL DEFAULT '{}',
	total_new INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'ok'
);
`

// SyncResult reports a full sync's outcome.
type SyncResult struct {
	Upserted int
	Errors   int
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Agent mirrors store mutations to Postgres. Asynchronous work funnels
// through a bounded task queue drained by a single worker goroutine;
// tasks arriving when the queue is full, or after Stop, are dropped,
// not blocked on.
type Agent struct {
	db        *sql.DB
	enabled   bool
	batchSize int
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
	tasks  chan task
	done   chan struct{}

	now func() time.Time
}

// Open connects to the remote Postgres store.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: open connection: %w", err)
	}
	return db, nil
}

// New creates an enabled mirror agent over an open Postgres handle.
func New(db *sql.DB, cfg config.MirrorConfig) *Agent {
	return &Agent{
		db:        db,
		enabled:   true,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout(),
		tasks:     make(chan task, cfg.QueueSize),
		done:      make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewDisabled returns an agent whose operations all do nothing, for
// running without a configured mirror.
func NewDisabled() *Agent {
	return &Agent{}
}

// Enabled reports whether the agent has a remote store behind it.
func (a *Agent) Enabled() bool {
	return a.enabled
}

// EnsureSchema creates the remote tables if they don't exist.
func (a *Agent) EnsureSchema(ctx context.Context) error {
	if !a.enabled {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := a.db.ExecContext(cctx, createTablesSQL); err != nil {
		return fmt.Errorf("mirror: create tables: %w", err)
	}
	return nil
}

// Ping verifies connectivity and that the articles table is reachable.
func (a *Agent) Ping(ctx context.Context) error {
	if !a.enabled {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var id string
	err := a.db.QueryRowContext(cctx, `SELECT id FROM articles LIMIT 1`).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("mirror: connection test: %w", err)
	}
	return nil
}

// Start launches the background worker. Stop drains queued tasks before
// returning, so a clean shutdown finishes what was already enqueued.
func (a *Agent) Start() {
	if !a.enabled {
		return
	}
	go func() {
		for t := range a.tasks {
			if err := t.fn(context.Background()); err != nil {
				slog.Warn("mirror task failed", "task", t.name, "error", err)
			}
		}
		close(a.done)
	}()
}

// Stop closes the queue and waits for the worker to drain it. Calling
// Stop more than once is safe; later calls return immediately.
func (a *Agent) Stop() {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.tasks)
	a.mu.Unlock()
	<-a.done
}

func (a *Agent) enqueue(name string, fn func(ctx context.Context) error) {
	if !a.enabled {
		return
	}
	// The send and the close in Stop are ordered by the mutex, so a task
	// can never land on a closed channel.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		slog.Warn("mirror queue closed, dropping task", "task", name)
		return
	}
	select {
	case a.tasks <- task{name: name, fn: fn}:
	default:
		slog.Warn("mirror queue full, dropping task", "task", name)
	}
}

// EnqueueSyncAll queues a full upsert of the given articles.
func (a *Agent) EnqueueSyncAll(articles []store.Article) {
	a.enqueue("sync_all", func(ctx context.Context) error {
		res := a.SyncAll(ctx, articles)
		if res.Errors > 0 {
			return fmt.Errorf("mirror: %d rows failed to upsert", res.Errors)
		}
		return nil
	})
}

// EnqueueSavedState queues a saved-flag update for one article.
func (a *Agent) EnqueueSavedState(id string, saved bool) {
	a.enqueue("saved_state", func(ctx context.Context) error {
		return a.SyncSavedState(ctx, id, saved)
	})
}

// EnqueueDelete queues a remote hard delete for one article.
func (a *Agent) EnqueueDelete(id string) {
	a.enqueue("delete", func(ctx context.Context) error {
		return a.Delete(ctx, id)
	})
}

// EnqueueLogRun queues an ingest run record insert.
func (a *Agent) EnqueueLogRun(r runlog.Run) {
	a.enqueue("log_run", func(ctx context.Context) error {
		return a.LogRun(ctx, r)
	})
}

// SyncAll upserts every article in batches keyed on id. A failed batch is
// counted and skipped; the next full sync repairs it.
func (a *Agent) SyncAll(ctx context.Context, articles []store.Article) SyncResult {
	if !a.enabled {
		return SyncResult{}
	}
	if len(articles) == 0 {
		slog.Info("no local articles to mirror")
		return SyncResult{}
	}

	var res SyncResult
	for i, chunk := range chunkArticles(articles, a.batchSize) {
		if err := a.upsertBatch(ctx, chunk); err != nil {
			res.Errors += len(chunk)
			slog.Error("mirror batch failed", "batch", i+1, "rows", len(chunk), "error", err)
			continue
		}
		res.Upserted += len(chunk)
	}

	slog.Info("mirror sync complete", "upserted", res.Upserted, "errors", res.Errors)
	return res
}

// chunkArticles splits articles into consecutive batches of at most size
// rows, preserving order. The last chunk carries the remainder.
func chunkArticles(articles []store.Article, size int) [][]store.Article {
	chunks := make([][]store.Article, 0, (len(articles)+size-1)/size)
	for start := 0; start < len(articles); start += size {
		chunks = append(chunks, articles[start:min(start+size, len(articles))])
	}
	return chunks
}

func (a *Agent) upsertBatch(ctx context.Context, chunk []store.Article) error {
	query, args, err := buildUpsert(chunk, a.now())
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.db.ExecContext(cctx, query, args...); err != nil {
		return fmt.Errorf("mirror: upsert batch: %w", err)
	}
	return nil
}

// buildUpsert renders one multi-row upsert statement. Optional fields
// become SQL NULL, never empty strings, and a zero scraped_at falls back
// to the current time so the column's NOT NULL constraint holds.
func buildUpsert(chunk []store.Article, now time.Time) (string, []any, error) {
	rows := make([]string, 0, len(chunk))
	args := make([]any, 0, len(chunk)*upsertColumns)

	for i, art := range chunk {
		tags := art.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return "", nil, fmt.Errorf("mirror: marshal tags for %s: %w", shortID(art.ID), err)
		}

		base := i * upsertColumns
		rows = append(rows, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d::jsonb,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12))

		args = append(args,
			art.ID,
			stringOr(art.Source, "unknown"),
			stringOr(art.Title, "Untitled"),
			nullIfEmpty(art.Summary),
			art.URL,
			nullIfZero(art.PublishedAt),
			timeOr(art.ScrapedAt, now),
			nullIfEmpty(art.Author),
			string(tagsJSON),
			art.ImageURL,
			art.Saved,
			art.SavedAt,
		)
	}

	query := `INSERT INTO articles
	(id, source, title, summary, url, published_at, scraped_at, author, tags, image_url, saved, saved_at)
	VALUES ` + strings.Join(rows, ",") + `
	ON CONFLICT (id) DO UPDATE SET
	source = EXCLUDED.source, title = EXCLUDED.title, summary = EXCLUDED.summary,
	url = EXCLUDED.url, published_at = EXCLUDED.published_at, scraped_at = EXCLUDED.scraped_at,
	author = EXCLUDED.author, tags = EXCLUDED.tags, image_url = EXCLUDED.image_url,
	saved = EXCLUDED.saved, saved_at = EXCLUDED.saved_at`

	return query, args, nil
}

// SyncSavedState updates one article's saved flag remotely. The remote
// saved_at is stamped at sync time, mirroring what the local store did
// moments earlier.
func (a *Agent) SyncSavedState(ctx context.Context, id string, saved bool) error {
	if !a.enabled {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var savedAt any
	if saved {
		savedAt = a.now()
	}
	if _, err := a.db.ExecContext(cctx,
		`UPDATE articles SET saved = $1, saved_at = $2 WHERE id = $3`,
		saved, savedAt, id,
	); err != nil {
		return fmt.Errorf("mirror: sync saved state for %s: %w", shortID(id), err)
	}

	slog.Info("saved state mirrored", "id", shortID(id), "saved", saved)
	return nil
}

// Delete removes one article from the remote store.
func (a *Agent) Delete(ctx context.Context, id string) error {
	if !a.enabled {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.db.ExecContext(cctx, `DELETE FROM articles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mirror: delete article %s: %w", shortID(id), err)
	}

	slog.Info("article deleted from mirror", "id", shortID(id))
	return nil
}

// LogRun inserts one ingest run record.
func (a *Agent) LogRun(ctx context.Context, r runlog.Run) error {
	if !a.enabled {
		return nil
	}
	counts, err := json.Marshal(r.SourceCounts)
	if err != nil {
		return fmt.Errorf("mirror: marshal source counts: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	runAt := r.RunAt
	if runAt.IsZero() {
		runAt = a.now()
	}
	if _, err := a.db.ExecContext(cctx,
		`INSERT INTO ingest_runs (run_at, elapsed_seconds, source_counts, total_new, status)
		 VALUES ($1, $2, $3::jsonb, $4, $5)`,
		runAt, r.ElapsedSeconds, string(counts), r.TotalNew, r.Status,
	); err != nil {
		return fmt.Errorf("mirror: log run: %w", err)
	}
	return nil
}

// Pull fetches every remote article, newest first. The caller merges the
// rows into the local store, where the remote saved state wins.
func (a *Agent) Pull(ctx context.Context) ([]store.Article, error) {
	if !a.enabled {
		return nil, nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.db.QueryContext(cctx,
		`SELECT id, source, title, summary, url, published_at, scraped_at, author, tags, image_url, saved, saved_at
		 FROM articles ORDER BY published_at DESC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("mirror: pull articles: %w", err)
	}
	defer rows.Close()

	var articles []store.Article
	for rows.Next() {
		var (
			art                       store.Article
			summary, author, imageURL sql.NullString
			publishedAt, savedAt      sql.NullTime
			scrapedAt                 time.Time
			tagsJSON                  []byte
		)
		if err := rows.Scan(&art.ID, &art.Source, &art.Title, &summary, &art.URL,
			&publishedAt, &scrapedAt, &author, &tagsJSON, &imageURL, &art.Saved, &savedAt); err != nil {
			return nil, fmt.Errorf("mirror: scan article: %w", err)
		}

		art.Summary = summary.String
		art.Author = author.String
		art.ScrapedAt = scrapedAt.UTC()
		if publishedAt.Valid {
			art.PublishedAt = publishedAt.Time.UTC()
		}
		if imageURL.Valid {
			s := imageURL.String
			art.ImageURL = &s
		}
		if savedAt.Valid {
			t := savedAt.Time.UTC()
			art.SavedAt = &t
		}
		art.Tags = []string{}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &art.Tags); err != nil {
				return nil, fmt.Errorf("mirror: parse tags for %s: %w", shortID(art.ID), err)
			}
		}
		articles = append(articles, art)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mirror: iterate articles: %w", err)
	}

	slog.Info("pulled articles from mirror", "count", len(articles))
	return articles, nil
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

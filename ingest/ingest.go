// Package ingest orchestrates one full collection cycle: fetch every
// source, normalize the candidates, merge into the local store, journal
// the run, and hand the remote mirror its fire-and-forget work.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"aipulse/runlog"
	"aipulse/source"
	"aipulse/store"
)

// Run statuses. A cycle is partial when at least one source failed and
// empty when every source did; source failures never abort the cycle.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusEmpty   = "empty"
)

// Normalizer converts raw candidates into canonical articles.
type Normalizer interface {
	Normalize(c source.Candidate, sourceName string) (store.Article, error)
}

// Store is the local article store the cycle commits into.
type Store interface {
	Merge(batches []store.Batch) (store.MergeSummary, error)
	Snapshot() (store.Document, error)
}

// RunRecorder journals completed cycles locally.
type RunRecorder interface {
	Record(r runlog.Run) error
}

// MirrorQueue receives remote sync work after the local commit. The
// queue owns delivery; the cycle never waits on it.
type MirrorQueue interface {
	EnqueueSyncAll(articles []store.Article)
	EnqueueLogRun(r runlog.Run)
}

// Summary reports one ingestion cycle.
type Summary struct {
	Status           string         `json:"status"`
	NewArticles      int            `json:"new_articles"`
	TotalArticles    int            `json:"total_articles"`
	PerSource        map[string]int `json:"per_source"`
	FetchedPerSource map[string]int `json:"fetched_per_source"`
	Rejected         int            `json:"rejected"`
	FailedSources    []string       `json:"failed_sources,omitempty"`
	ElapsedSeconds   float64        `json:"elapsed_seconds"`
	RunAt            time.Time      `json:"run_at"`
	RunCount         int            `json:"run_count"`
}

// Runner executes ingestion cycles against injected collaborators.
type Runner struct {
	fetchers   []source.Fetcher
	normalizer Normalizer
	store      Store
	runs       RunRecorder
	mirror     MirrorQueue
	rawDir     string
	now        func() time.Time
}

// NewRunner creates a Runner. rawDir may be empty to skip the per-source
// debug snapshots.
func NewRunner(fetchers []source.Fetcher, n Normalizer, s Store, runs RunRecorder, m MirrorQueue, rawDir string) *Runner {
	return &Runner{
		fetchers:   fetchers,
		normalizer: n,
		store:      s,
		runs:       runs,
		mirror:     m,
		rawDir:     rawDir,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one cycle. Only a failed store commit returns an error;
// source and mirror problems are reflected in the summary status.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.now()
	slog.Info("ingestion cycle starting", "sources", len(r.fetchers))

	// 1. Fetch every source in parallel. A failed source contributes
	// nothing but does not disturb its siblings.
	results := source.FetchAll(ctx, r.fetchers)

	// 2. Normalize. Candidates outside the lookback window or without a
	// usable URL are dropped here.
	var (
		batches  []store.Batch
		fetched  = make(map[string]int, len(results))
		failed   []string
		rejected int
	)
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Source)
			continue
		}
		fetched[res.Source] = len(res.Candidates)

		batch := store.Batch{Source: res.Source}
		for _, c := range res.Candidates {
			art, err := r.normalizer.Normalize(c, res.Source)
			if err != nil {
				rejected++
				slog.Debug("candidate rejected", "source", res.Source, "title", c.Title, "error", err)
				continue
			}
			batch.Articles = append(batch.Articles, art)
		}
		batches = append(batches, batch)
	}

	// 3. Keep per-source snapshots around for debugging.
	r.writeRawSnapshots(batches)

	// 4. Merge into the local store. Batch order fixes which source wins
	// a duplicate id. This commit is the cycle's success boundary.
	merged, err := r.store.Merge(batches)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: %w", err)
	}

	summary := Summary{
		Status:           cycleStatus(len(r.fetchers), len(failed)),
		NewArticles:      merged.NewArticles,
		TotalArticles:    merged.TotalArticles,
		PerSource:        merged.PerSource,
		FetchedPerSource: fetched,
		Rejected:         rejected,
		FailedSources:    failed,
		ElapsedSeconds:   r.now().Sub(start).Seconds(),
		RunAt:            merged.LastRun,
		RunCount:         merged.RunCount,
	}

	// 5. Journal the run locally. The merge already committed, so a
	// journaling failure is logged and ignored.
	rec := runlog.Run{
		RunAt:          summary.RunAt,
		ElapsedSeconds: summary.ElapsedSeconds,
		SourceCounts:   summary.PerSource,
		TotalNew:       summary.NewArticles,
		Status:         summary.Status,
	}
	if err := r.runs.Record(rec); err != nil {
		slog.Error("recording run failed", "error", err)
	}

	// 6. Hand the mirror its work. Enqueue never blocks.
	if doc, err := r.store.Snapshot(); err != nil {
		slog.Error("snapshot for mirror sync failed", "error", err)
	} else {
		r.mirror.EnqueueSyncAll(doc.Articles)
	}
	r.mirror.EnqueueLogRun(rec)

	slog.Info("ingestion cycle complete",
		"status", summary.Status,
		"new", summary.NewArticles,
		"total", summary.TotalArticles,
		"rejected", summary.Rejected,
		"elapsed_secs", summary.ElapsedSeconds)
	return summary, nil
}

func cycleStatus(sources, failed int) string {
	switch {
	case failed == 0:
		return StatusOK
	case failed >= sources:
		return StatusEmpty
	default:
		return StatusPartial
	}
}

func (r *Runner) writeRawSnapshots(batches []store.Batch) {
	if r.rawDir == "" {
		return
	}
	if err := os.MkdirAll(r.rawDir, 0755); err != nil {
		slog.Warn("creating raw snapshot dir failed", "dir", r.rawDir, "error", err)
		return
	}
	for _, b := range batches {
		data, err := json.MarshalIndent(b.Articles, "", "  ")
		if err != nil {
			slog.Warn("marshal raw snapshot failed", "source", b.Source, "error", err)
			continue
		}
		path := filepath.Join(r.rawDir, "raw_"+b.Source+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			slog.Warn("write raw snapshot failed", "path", path, "error", err)
		}
	}
}

// Package scheduler drives periodic ingestion off a cron expression.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a single recurring refresh job.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	entryID cron.EntryID
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Schedule registers the refresh task under the given cron spec, which
// accepts standard five-field expressions and descriptors like
// "@every 6h". A previous schedule is replaced.
func (s *Scheduler) Schedule(spec string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}

	entryID, err := s.cron.AddFunc(spec, task)
	if err != nil {
		return fmt.Errorf("adding cron entry for %q: %w", spec, err)
	}

	s.entryID = entryID
	slog.Info("refresh scheduled", "cron", spec)
	return nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next scheduled run time, or the zero time when
// nothing is scheduled yet.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

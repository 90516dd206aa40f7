package runlog

import (
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a Store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	t.Run("creates database and table", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.db.Exec("SELECT COUNT(*) FROM runs"); err != nil {
			t.Errorf("runs table missing: %v", err)
		}
	})

	t.Run("invalid path returns error", func(t *testing.T) {
		_, err := New("/nonexistent/dir/runs.db")
		if err == nil {
			t.Fatal("expected error for invalid path, got nil")
		}
	})
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)

	first := Run{
		RunAt:          time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		ElapsedSeconds: 4.2,
		SourceCounts:   map[string]int{"bensbites": 3, "reddit": 12},
		TotalNew:       15,
		Status:         "ok",
	}
	second := Run{
		RunAt:          time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC),
		ElapsedSeconds: 2.0,
		SourceCounts:   map[string]int{"reddit": 1},
		TotalNew:       1,
		Status:         "partial",
	}

	if err := s.Record(first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	// Newest first.
	if runs[0].Status != "partial" || runs[1].Status != "ok" {
		t.Errorf("order = %s, %s; want partial, ok", runs[0].Status, runs[1].Status)
	}
	if !runs[1].RunAt.Equal(first.RunAt) {
		t.Errorf("RunAt = %v, want %v", runs[1].RunAt, first.RunAt)
	}
	if runs[1].ElapsedSeconds != 4.2 {
		t.Errorf("ElapsedSeconds = %v, want 4.2", runs[1].ElapsedSeconds)
	}
	if runs[1].SourceCounts["reddit"] != 12 {
		t.Errorf("SourceCounts = %v", runs[1].SourceCounts)
	}
	if runs[1].TotalNew != 15 {
		t.Errorf("TotalNew = %d, want 15", runs[1].TotalNew)
	}
}

func TestRecent_Limit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.Record(Run{RunAt: time.Now(), Status: "ok"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	runs, err := s.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}
}

func TestRecent_Empty(t *testing.T) {
	s := newTestStore(t)
	runs, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs, want 0", len(runs))
	}
}

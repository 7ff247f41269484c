// ABOUTME: Tests for the SQLite call log.
// ABOUTME: Covers schema creation, recording, filtering, ordering, and limits.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "calls.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestRecordAndListCalls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	calls := []*Call{
		{RequestID: "r1", Domain: "a.example", DataID: "tab-1", ToolName: "search", Outcome: OutcomeSuccess, Duration: 120 * time.Millisecond, StartedAt: base},
		{RequestID: "r2", Domain: "a.example", DataID: "tab-1", ToolName: "search", Outcome: OutcomeTimeout, Error: "timed out after 30s", StartedAt: base.Add(time.Second)},
		{RequestID: "r3", Domain: "b.example", DataID: "tab-2", ToolName: "open", Outcome: OutcomeUnavailable, Error: "tool unavailable", StartedAt: base.Add(2 * time.Second)},
	}
	for _, c := range calls {
		if err := store.RecordCall(ctx, c); err != nil {
			t.Fatalf("RecordCall failed: %v", err)
		}
		if c.ID == "" {
			t.Error("expected ID to be generated")
		}
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := store.ListCalls(ctx, CallFilter{})
		if err != nil {
			t.Fatalf("ListCalls failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 calls, got %d", len(got))
		}
		if got[0].RequestID != "r3" || got[2].RequestID != "r1" {
			t.Errorf("unexpected order: %s, %s, %s", got[0].RequestID, got[1].RequestID, got[2].RequestID)
		}
		if got[2].Duration != 120*time.Millisecond {
			t.Errorf("duration not preserved: %v", got[2].Duration)
		}
		if !got[2].StartedAt.Equal(base) {
			t.Errorf("started_at not preserved: %v", got[2].StartedAt)
		}
		if got[1].Error != "timed out after 30s" {
			t.Errorf("error not preserved: %q", got[1].Error)
		}
		if got[2].Error != "" {
			t.Errorf("expected empty error for success, got %q", got[2].Error)
		}
	})

	t.Run("by domain", func(t *testing.T) {
		domain := "a.example"
		got, err := store.ListCalls(ctx, CallFilter{Domain: &domain})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 calls for a.example, got %d", len(got))
		}
	})

	t.Run("by outcome", func(t *testing.T) {
		outcome := OutcomeTimeout
		got, err := store.ListCalls(ctx, CallFilter{Outcome: &outcome})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].RequestID != "r2" {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("since and limit", func(t *testing.T) {
		since := base.Add(time.Second)
		got, err := store.ListCalls(ctx, CallFilter{Since: &since, Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].RequestID != "r3" {
			t.Errorf("unexpected result: %+v", got)
		}
	})
}

func TestRecordCall_RejectsUnknownOutcome(t *testing.T) {
	store := newTestStore(t)
	err := store.RecordCall(context.Background(), &Call{RequestID: "r1", Outcome: "exploded"})
	if err == nil {
		t.Error("expected CHECK constraint to reject unknown outcome")
	}
}

func TestListCalls_Empty(t *testing.T) {
	store := newTestStore(t)
	got, err := store.ListCalls(context.Background(), CallFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct{ in, want int }{{0, 100}, {-5, 100}, {50, 50}, {5000, 1000}}
	for _, tt := range tests {
		if got := normalizeLimit(tt.in); got != tt.want {
			t.Errorf("normalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMockStore(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	base := time.Now().UTC()

	_ = m.RecordCall(ctx, &Call{RequestID: "old", Domain: "a.example", Outcome: OutcomeSuccess, StartedAt: base})
	_ = m.RecordCall(ctx, &Call{RequestID: "new", Domain: "b.example", Outcome: OutcomeSuccess, StartedAt: base.Add(time.Second)})

	got, _ := m.ListCalls(ctx, CallFilter{})
	if len(got) != 2 || got[0].RequestID != "new" {
		t.Errorf("unexpected list %+v", got)
	}
	domain := "a.example"
	got, _ = m.ListCalls(ctx, CallFilter{Domain: &domain})
	if len(got) != 1 || got[0].RequestID != "old" {
		t.Errorf("unexpected filtered list %+v", got)
	}
}

var (
	_ CallLog = (*SQLiteStore)(nil)
	_ CallLog = (*MockStore)(nil)
)

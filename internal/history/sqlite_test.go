package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sub", "history.db"), "")
	if err != nil {
		t.Fatalf("failed to init sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func finishedRun(id, query string, started time.Time, status core.RunStatus) *core.Run {
	done := started.Add(3 * time.Second)
	return &core.Run{
		ID:          id,
		Query:       query,
		StartedAt:   started,
		CompletedAt: &done,
		Status:      status,
		TriggerType: "manual",
		Results: &core.ResultSet{
			Query:      query,
			Results:    make([]core.SearchResult, 5),
			TotalCount: 1200,
			Pages:      10,
			Truncated:  true,
			StopReason: core.StopResultCap,
		},
	}
}

func TestSQLiteStoreRecordsRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	first := finishedRun("run-a", "filename:CLAUDE.md", base, core.RunStatusCompleted)
	second := finishedRun("run-b", "filename:CLAUDE.md", base.Add(time.Hour), core.RunStatusDegraded)
	other := finishedRun("run-c", "path:.cursor", base.Add(2*time.Hour), core.RunStatusFailed)
	other.Results = nil
	other.Error = "search page 1: invalid query"

	for _, run := range []*core.Run{first, second, other} {
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("record run failed: %v", err)
		}
	}

	got, err := store.RecentRuns(ctx, "filename:CLAUDE.md", 10)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	want := []Record{RecordFromRun(second), RecordFromRun(first)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recent runs mismatch (-want +got):\n%s", diff)
	}

	all, err := store.RecentRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "run-c" || all[0].Error == "" || all[0].Results != 0 {
		t.Fatalf("unexpected runs: %+v", all)
	}
}

func TestSQLiteStoreUpsertsRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := &core.Run{ID: "run-x", Query: "q", StartedAt: time.Now().UTC(), Status: core.RunStatusRunning}
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("record run failed: %v", err)
	}
	done := run.StartedAt.Add(time.Second)
	run.CompletedAt = &done
	run.Status = core.RunStatusCompleted
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("record run failed: %v", err)
	}

	got, err := store.RecentRuns(ctx, "q", 5)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(got) != 1 || got[0].Status != core.RunStatusCompleted || got[0].CompletedAt.IsZero() {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestSQLiteStoreRejectsBadInput(t *testing.T) {
	if _, err := NewSQLiteStore("", ""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := NewSQLiteStore(filepath.Join(t.TempDir(), "h.db"), "runs; DROP"); err == nil {
		t.Fatalf("expected error for bad table name")
	}
	store := newTestStore(t)
	if err := store.RecordRun(context.Background(), &core.Run{}); err == nil {
		t.Fatalf("expected error for run without id")
	}
}

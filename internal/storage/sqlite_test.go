// SPDX-License-Identifier: AGPL-3.0-only
package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/scheduletask/mcp-server/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "tasks.db"), "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleTask(id string) *model.Task {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Task{
		ID:            id,
		Name:          "nightly backup",
		TriggerType:   model.TriggerCron,
		TriggerConfig: json.RawMessage(`{"expression":"0 2 * * *"}`),
		Enabled:       true,
		Status:        model.StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")

	if err := st.Upsert(ctx, task, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Name != task.Name || got.TriggerType != task.TriggerType {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.History) != 0 {
		t.Fatalf("expected no history, got %d entries", len(got.History))
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")

	for i := 0; i < 3; i++ {
		if err := st.Upsert(ctx, task, nil); err != nil {
			t.Fatalf("Upsert #%d: %v", i, err)
		}
	}
	all, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one task after repeated upsert, got %d", len(all))
	}
}

func TestHistoryBoundedAndNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")
	if err := st.Upsert(ctx, task, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var history []model.HistoryEntry
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < model.MaxHistoryLen+5; i++ {
		history = append([]model.HistoryEntry{{
			RunAt:  base.Add(time.Duration(i) * time.Minute),
			Status: model.RunSuccess,
		}}, history...)
	}
	if err := st.Upsert(ctx, task, history); err != nil {
		t.Fatalf("Upsert with history: %v", err)
	}

	got, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.History) != model.MaxHistoryLen {
		t.Fatalf("expected %d history rows, got %d", model.MaxHistoryLen, len(got.History))
	}
	if !got.History[0].RunAt.Equal(history[0].RunAt) {
		t.Fatalf("expected newest-first ordering, got %v want %v", got.History[0].RunAt, history[0].RunAt)
	}
}

func TestDeleteCascadesHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")
	history := []model.HistoryEntry{{RunAt: time.Now().UTC(), Status: model.RunSuccess}}
	if err := st.Upsert(ctx, task, history); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deleted, err := st.Delete(ctx, "t1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected Delete to report a removed row")
	}

	var count int
	if err := st.db.QueryRowContext(ctx, `SELECT count(*) FROM task_history WHERE task_id = 't1'`).Scan(&count); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascaded delete of history rows, found %d", count)
	}
}

func TestUpdateStatusPartialUpdate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")
	if err := st.Upsert(ctx, task, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	runAt := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	status := model.RunSuccess
	if err := st.UpdateStatus(ctx, "t1", StatusFields{
		LastRun:    ptrTo(&runAt),
		LastStatus: ptrTo(&status),
	}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(runAt) {
		t.Fatalf("LastRun not applied: %+v", got.LastRun)
	}
	if got.LastStatus == nil || *got.LastStatus != model.RunSuccess {
		t.Fatalf("LastStatus not applied: %+v", got.LastStatus)
	}
	if got.NextRun != nil {
		t.Fatalf("expected NextRun untouched (nil), got %v", got.NextRun)
	}
}

func TestUpdateStatusCanClearField(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")
	runAt := time.Now().UTC()
	status := model.RunError
	task.LastRun = &runAt
	task.LastStatus = &status
	if err := st.Upsert(ctx, task, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var nilTime *time.Time
	if err := st.UpdateStatus(ctx, "t1", StatusFields{LastRun: ptrTo(nilTime)}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastRun != nil {
		t.Fatalf("expected LastRun cleared, got %v", got.LastRun)
	}
	if got.LastStatus == nil {
		t.Fatalf("expected LastStatus left untouched")
	}
}

func TestClearHistoryRemovesRowsAndLastFields(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1")
	runAt := time.Now().UTC()
	status := model.RunSuccess
	task.LastRun = &runAt
	task.LastStatus = &status
	history := []model.HistoryEntry{{RunAt: runAt, Status: status}}
	if err := st.Upsert(ctx, task, history); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := st.ClearHistory(ctx, "t1"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	got, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.History) != 0 {
		t.Fatalf("expected history cleared, got %d entries", len(got.History))
	}
	if got.LastRun != nil || got.LastStatus != nil {
		t.Fatalf("expected last_run/last_status cleared, got %+v %+v", got.LastRun, got.LastStatus)
	}
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	st := openTestStore(t)
	got, err := st.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing task, got %+v", got)
	}
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")
	st1, err := Open(path, "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st1.Upsert(context.Background(), sampleTask("t1"), nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := st1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(path, "", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got == nil {
		t.Fatal("expected task to survive reopen")
	}
}

func ptrTo[T any](v T) *T { return &v }

// sanity that modernc's driver name and WAL mode are actually wired.
func TestWALModeEnabled(t *testing.T) {
	st := openTestStore(t)
	var mode string
	if err := st.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
}

// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/scheduletask/mcp-server/internal/config"
	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/storage"
	"github.com/scheduletask/mcp-server/internal/timeutil"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(dir+"/tasks.db", "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	cfg := &config.SchedulerConfig{SamplingTimeout: time.Second, Timezone: "UTC"}
	s := New(st, cfg, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestCreateIntervalTaskArmsTimer(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	task, err := s.Create(ctx, CreateParams{
		Name:          "heartbeat",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":30}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", task.Status)
	}
	if task.NextRun == nil {
		t.Fatal("expected next_run to be set")
	}
	if _, ok := s.timers.Get(task.ID); !ok {
		t.Fatal("expected an armed interval timer")
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.Create(context.Background(), CreateParams{
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":5}`),
	})
	if err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestUpdateTriggerTypeWithoutConfigFails(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	task, err := s.Create(ctx, CreateParams{
		Name:          "heartbeat",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":30}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cronType := model.TriggerCron
	_, err = s.Update(ctx, task.ID, UpdatePatch{TriggerType: &cronType})
	if err == nil {
		t.Fatal("expected error when changing trigger_type without trigger_config")
	}
}

func TestPauseUnarmsAndResumeRearms(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	task, err := s.Create(ctx, CreateParams{
		Name:          "heartbeat",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":30}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	paused, err := s.Pause(ctx, task.ID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != model.StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}
	if _, ok := s.timers.Get(task.ID); ok {
		t.Fatal("expected timer to be unarmed after pause")
	}

	resumed, err := s.Resume(ctx, task.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", resumed.Status)
	}
	if _, ok := s.timers.Get(task.ID); !ok {
		t.Fatal("expected timer to be re-armed after resume")
	}
}

func TestDeleteMissingTaskReturnsNotFound(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.Delete(context.Background(), "no-such-task")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestExecuteRunsFireSynchronously(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	task, err := s.Create(ctx, CreateParams{
		Name:          "heartbeat",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":30}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	executed, err := s.Execute(ctx, task.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(executed.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(executed.History))
	}
}

func TestExecuteSwallowsFireFailureIntoTaskStatus(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	prompt := "ping"
	task, err := s.Create(ctx, CreateParams{
		Name:          "agent task",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":30}`),
		AgentPrompt:   &prompt,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No sampler installed: the fire itself fails, but Execute must still
	// return the task with the failure captured, not a tool-call error.
	executed, err := s.Execute(ctx, task.ID)
	if err != nil {
		t.Fatalf("Execute should swallow the fire's own failure, got: %v", err)
	}
	if executed.LastStatus == nil || *executed.LastStatus != model.RunError {
		t.Fatalf("expected last_status error, got %v", executed.LastStatus)
	}
	if executed.LastMessage == nil {
		t.Fatal("expected a failure message")
	}
}

func TestClearHistoryOnMissingTaskFails(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.ClearHistory(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDescribeIncludesTriggerSummary(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	task, err := s.Create(ctx, CreateParams{
		Name:          "heartbeat",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"minutes":30}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	described := s.Describe(task)
	if described.TriggerSummary == "" {
		t.Fatal("expected a non-empty trigger summary")
	}
}

// TestRestartPreservesIntervalScheduleUnderFakeClock simulates a process
// restart (a second Scheduler instance bound to the same store, some real
// time later) and checks that the interval task's next tick stays anchored
// to the instant it was originally planned for, rather than resetting to
// "now + period" on the restart's Initialize.
func TestRestartPreservesIntervalScheduleUnderFakeClock(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(dir+"/tasks.db", "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewFakeClock(t0)
	cfg := &config.SchedulerConfig{SamplingTimeout: time.Second, Timezone: "UTC"}

	first := New(st, cfg, nil)
	first.SetClock(clock)
	if err := first.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	task, err := first.Create(context.Background(), CreateParams{
		Name:          "heartbeat",
		TriggerType:   model.TriggerInterval,
		TriggerConfig: json.RawMessage(`{"seconds":30}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.NextRun == nil {
		t.Fatal("expected next_run to be set")
	}
	plannedTarget := *task.NextRun
	if !plannedTarget.Equal(t0.Add(30 * time.Second)) {
		t.Fatalf("expected next_run at t0+30s, got %v", plannedTarget)
	}
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// Simulate a restart 10s later: a fresh Scheduler, same store, clock
	// advanced but still short of the planned tick.
	clock.Advance(10 * time.Second)
	second := New(st, cfg, nil)
	second.SetClock(clock)
	if err := second.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = second.Shutdown(context.Background()) })

	restarted, err := second.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if restarted.NextRun == nil || !restarted.NextRun.Equal(plannedTarget) {
		t.Fatalf("expected next_run preserved at %v across restart, got %v", plannedTarget, restarted.NextRun)
	}

	period, err := parseIntervalPeriod(restarted.TriggerConfig)
	if err != nil {
		t.Fatalf("parseIntervalPeriod: %v", err)
	}
	if got := second.intervalTarget(restarted, period); !got.Equal(plannedTarget) {
		t.Fatalf("arm() would target %v, want the preserved %v", got, plannedTarget)
	}
}

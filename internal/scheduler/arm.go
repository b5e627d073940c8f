// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/trigger"
)

func unmarshalConfig(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// arm registers a timer for task per its trigger type. Callers must have
// already unarmed any prior timer for this id.
func (s *Scheduler) arm(task *model.Task) {
	switch task.TriggerType {
	case model.TriggerCron:
		var cfg struct {
			Expression string `json:"expression"`
		}
		if err := unmarshalConfig(task.TriggerConfig, &cfg); err != nil {
			s.log.Errorf("cannot arm cron task %s: %v", task.ID, err)
			return
		}
		sched, err := trigger.ParseCronSchedule(cfg.Expression)
		if err != nil {
			s.log.Errorf("cannot arm cron task %s: %v", task.ID, err)
			return
		}
		id := task.ID
		entryID := s.cronEngine.Schedule(sched, cron.FuncJob(func() { s.onScheduledTick(id) }))
		s.cronEntries.Set(task.ID, entryID)

	case model.TriggerInterval:
		period, err := parseIntervalPeriod(task.TriggerConfig)
		if err != nil {
			s.log.Errorf("cannot arm interval task %s: %v", task.ID, err)
			return
		}
		s.armIntervalAt(task.ID, period, s.intervalTarget(task, period))

	case model.TriggerDate:
		var cfg struct {
			RunDate *time.Time `json:"run_date,omitempty"`
		}
		if err := unmarshalConfig(task.TriggerConfig, &cfg); err != nil || cfg.RunDate == nil {
			s.log.Errorf("cannot arm date task %s: %v", task.ID, err)
			return
		}
		delay := cfg.RunDate.Sub(s.clock.Now().UTC())
		if delay < 0 {
			delay = 0
		}
		id := task.ID
		timer := time.AfterFunc(delay, func() {
			s.timers.Remove(id)
			s.onScheduledTick(id)
		})
		s.timers.Set(task.ID, timer)
	}
}

// intervalTarget returns the instant the next interval tick should be armed
// for: the already-normalized task.NextRun when present, which preserves the
// tick schedule across restarts and unrelated edits (normalize has already
// run trigger.NextFire to compute it), falling back to now+period only for a
// task with no persisted next_run.
func (s *Scheduler) intervalTarget(task *model.Task, period time.Duration) time.Time {
	if task.NextRun != nil {
		return *task.NextRun
	}
	return s.clock.Now().UTC().Add(period)
}

// armIntervalAt arms a one-shot timer for the fixed tick at target. The
// schedule is anchored to that instant, not to when the tick is actually
// serviced: a tick that lands while the previous fire is still running is
// dropped by onScheduledTick's per-task TryLock, and the timer re-arms for
// the next tick boundary strictly after now, skipping any that already
// elapsed. A slow fire never shifts the schedule forward.
//
// The re-arm tail runs under the same per-task lock Update/Delete/setEnabled
// take around unarm-then-arm, and re-reads the task's current period from
// the store rather than closing over the one passed in: without that, a
// concurrent Update that changes the period (or deletes the task, or swaps
// the trigger type) could have this stale tail clobber the fresh timer it
// just armed.
func (s *Scheduler) armIntervalAt(id string, period time.Duration, target time.Time) {
	delay := target.Sub(s.clock.Now().UTC())
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		s.onScheduledTick(id)

		mu := s.lockFor(id)
		mu.Lock()
		defer mu.Unlock()

		task, err := s.store.Get(context.Background(), id)
		if err != nil || task == nil {
			return
		}
		if !task.Enabled || task.Status == model.StatusCompleted || task.TriggerType != model.TriggerInterval {
			// Disabled, completed, deleted, or switched to another trigger
			// type out from under this timer; whichever lifecycle verb did
			// that already unarmed and, if applicable, re-armed the task
			// under this same lock.
			return
		}
		currentPeriod, err := parseIntervalPeriod(task.TriggerConfig)
		if err != nil {
			s.log.Errorf("cannot re-arm interval task %s: %v", id, err)
			return
		}
		next := target.Add(currentPeriod)
		now := s.clock.Now().UTC()
		for !next.After(now) {
			next = next.Add(currentPeriod)
		}
		s.armIntervalAt(id, currentPeriod, next)
	})
	s.timers.Set(id, timer)
}

func parseIntervalPeriod(raw json.RawMessage) (time.Duration, error) {
	var cfg struct {
		Seconds *float64 `json:"seconds,omitempty"`
		Minutes *float64 `json:"minutes,omitempty"`
		Hours   *float64 `json:"hours,omitempty"`
		Days    *float64 `json:"days,omitempty"`
	}
	if err := unmarshalConfig(raw, &cfg); err != nil {
		return 0, err
	}
	return intervalDuration(cfg.Seconds, cfg.Minutes, cfg.Hours, cfg.Days), nil
}

// unarm removes any cron entry or timer registered for id.
func (s *Scheduler) unarm(id string) {
	if entryID, ok := s.cronEntries.Pop(id); ok {
		s.cronEngine.Remove(entryID)
	}
	if timer, ok := s.timers.Pop(id); ok {
		timer.Stop()
	}
}

func intervalDuration(seconds, minutes, hours, days *float64) time.Duration {
	var total float64
	if seconds != nil {
		total += *seconds
	}
	if minutes != nil {
		total += *minutes * 60
	}
	if hours != nil {
		total += *hours * 3600
	}
	if days != nil {
		total += *days * 86400
	}
	if total <= 0 {
		total = 1
	}
	return time.Duration(total * float64(time.Second))
}

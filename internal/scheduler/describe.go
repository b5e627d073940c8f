// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/timeutil"
	"github.com/scheduletask/mcp-server/internal/trigger"
)

// normalize derives status and next_run from the task's stored fields and
// now, per §4.D's normalization rules. It mutates task in place.
func (s *Scheduler) normalize(task *model.Task, now time.Time) {
	if len(task.History) > model.MaxHistoryLen {
		task.History = task.History[:model.MaxHistoryLen]
	}

	switch {
	case !task.Enabled:
		if task.Status == model.StatusCompleted {
			task.Status = model.StatusCompleted
		} else {
			task.Status = model.StatusPaused
		}
	case task.Status == model.StatusRunning:
		// leave as-is; a fire is in flight.
	case task.TriggerType == model.TriggerDate && (mostRecentHistorySuccess(task) || dateRunDatePassed(task, now)):
		task.Status = model.StatusCompleted
	case task.LastStatus != nil && *task.LastStatus == model.RunError:
		task.Status = model.StatusError
	default:
		task.Status = model.StatusScheduled
	}

	if task.TriggerType == model.TriggerDate && task.Status == model.StatusCompleted {
		task.Enabled = false
	}

	nextRun, err := trigger.NextFire(task.TriggerType, task.TriggerConfig, now, s.zone, task.NextRun)
	if err == nil {
		task.NextRun = nextRun
	}
}

func mostRecentHistorySuccess(task *model.Task) bool {
	return len(task.History) > 0 && task.History[0].Status == model.RunSuccess
}

func dateRunDatePassed(task *model.Task, now time.Time) bool {
	var cfg trigger.DateConfig
	if err := json.Unmarshal(task.TriggerConfig, &cfg); err != nil || cfg.RunDate == nil {
		return false
	}
	return !cfg.RunDate.After(now)
}

// Described is the presentation projection built by Describe.
type Described struct {
	*model.Task
	TriggerSummary      string               `json:"trigger_summary"`
	NextRunLocal        string               `json:"next_run_local,omitempty"`
	LastRunLocal        string               `json:"last_run_local,omitempty"`
	CreatedAtLocal      string               `json:"created_at_local"`
	UpdatedAtLocal      string               `json:"updated_at_local"`
	History             []DescribedHistory   `json:"history"`
	TriggerConfigLocal  *TriggerConfigLocal  `json:"trigger_config_local,omitempty"`
}

// DescribedHistory is a history entry with a localized timestamp added.
type DescribedHistory struct {
	model.HistoryEntry
	RunAtLocal string `json:"run_at_local"`
}

// TriggerConfigLocal mirrors date trigger_config with a localized run_date.
type TriggerConfigLocal struct {
	RunDateLocal string `json:"run_date_local"`
}

// Describe projects task into its presentation shape.
func (s *Scheduler) Describe(task *model.Task) *Described {
	history := make([]DescribedHistory, 0, len(task.History))
	for _, h := range task.History {
		history = append(history, DescribedHistory{
			HistoryEntry: h,
			RunAtLocal:   timeutil.FormatLocal(h.RunAt, s.zone),
		})
	}

	d := &Described{
		Task:           task,
		TriggerSummary: s.triggerSummary(task),
		NextRunLocal:   timeutil.FormatLocalPtr(task.NextRun, s.zone),
		LastRunLocal:   timeutil.FormatLocalPtr(task.LastRun, s.zone),
		CreatedAtLocal: timeutil.FormatLocal(task.CreatedAt, s.zone),
		UpdatedAtLocal: timeutil.FormatLocal(task.UpdatedAt, s.zone),
		History:        history,
	}

	if task.TriggerType == model.TriggerDate {
		var cfg trigger.DateConfig
		if err := json.Unmarshal(task.TriggerConfig, &cfg); err == nil && cfg.RunDate != nil {
			d.TriggerConfigLocal = &TriggerConfigLocal{RunDateLocal: timeutil.FormatLocal(*cfg.RunDate, s.zone)}
		}
	}
	return d
}

func (s *Scheduler) triggerSummary(task *model.Task) string {
	switch task.TriggerType {
	case model.TriggerInterval:
		var cfg trigger.IntervalConfig
		if err := json.Unmarshal(task.TriggerConfig, &cfg); err != nil {
			return "interval"
		}
		return fmt.Sprintf("每%s", humanizeDuration(cfg.Duration()))
	case model.TriggerCron:
		var cfg trigger.CronConfig
		if err := json.Unmarshal(task.TriggerConfig, &cfg); err != nil {
			return "cron"
		}
		return fmt.Sprintf("Cron: %s", cfg.Expression)
	case model.TriggerDate:
		var cfg trigger.DateConfig
		if err := json.Unmarshal(task.TriggerConfig, &cfg); err == nil && cfg.RunDate != nil {
			return fmt.Sprintf("一次性 @ %s", timeutil.FormatLocal(*cfg.RunDate, s.zone))
		}
		return "一次性"
	default:
		return string(task.TriggerType)
	}
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0 && d >= 24*time.Hour:
		return fmt.Sprintf("%d天", d/(24*time.Hour))
	case d%time.Hour == 0 && d >= time.Hour:
		return fmt.Sprintf("%d小时", d/time.Hour)
	case d%time.Minute == 0 && d >= time.Minute:
		return fmt.Sprintf("%d分钟", d/time.Minute)
	default:
		return fmt.Sprintf("%d秒", d/time.Second)
	}
}

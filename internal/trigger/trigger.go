// SPDX-License-Identifier: AGPL-3.0-only

// Package trigger implements Component B: pure next-fire computation for
// the three trigger families, plus the validation and materialization that
// happens once at task registration time.
package trigger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/scheduletask/mcp-server/internal/model"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IntervalConfig is the trigger_config shape for model.TriggerInterval.
type IntervalConfig struct {
	Seconds *float64 `json:"seconds,omitempty"`
	Minutes *float64 `json:"minutes,omitempty"`
	Hours   *float64 `json:"hours,omitempty"`
	Days    *float64 `json:"days,omitempty"`
}

// Duration sums the configured units into a time.Duration, rounded to whole
// milliseconds with a 1ms floor, per §4.B.
func (c IntervalConfig) Duration() time.Duration {
	var total float64
	if c.Seconds != nil {
		total += *c.Seconds
	}
	if c.Minutes != nil {
		total += *c.Minutes * 60
	}
	if c.Hours != nil {
		total += *c.Hours * 3600
	}
	if c.Days != nil {
		total += *c.Days * 86400
	}
	ms := math.Round(total * 1000)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// CronConfig is the trigger_config shape for model.TriggerCron.
type CronConfig struct {
	Expression string `json:"expression"`
}

// DateConfig is the trigger_config shape for model.TriggerDate, both before
// and after materialization (after materialization, RunDate is always set
// and the delay fields are informational only).
type DateConfig struct {
	RunDate      *time.Time `json:"run_date,omitempty"`
	DelaySeconds *float64   `json:"delay_seconds,omitempty"`
	DelayMinutes *float64   `json:"delay_minutes,omitempty"`
	DelayHours   *float64   `json:"delay_hours,omitempty"`
	DelayDays    *float64   `json:"delay_days,omitempty"`
}

func (c DateConfig) delay() (time.Duration, bool) {
	var total float64
	var any bool
	if c.DelaySeconds != nil {
		total += *c.DelaySeconds
		any = true
	}
	if c.DelayMinutes != nil {
		total += *c.DelayMinutes * 60
		any = true
	}
	if c.DelayHours != nil {
		total += *c.DelayHours * 3600
		any = true
	}
	if c.DelayDays != nil {
		total += *c.DelayDays * 86400
		any = true
	}
	return time.Duration(total * float64(time.Second)), any
}

func strictDecode(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// ValidateAndMaterialize validates trigger_config for triggerType and, for
// date triggers, materializes a concrete run_date per the registration
// rules in §4.B: a past run_date is re-materialized as now+delay (if a
// delay was given) or now+1s (otherwise). The returned json.RawMessage is
// the normalized config to persist.
func ValidateAndMaterialize(triggerType model.TriggerType, raw json.RawMessage, now time.Time) (json.RawMessage, error) {
	switch triggerType {
	case model.TriggerInterval:
		var cfg IntervalConfig
		if err := strictDecode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid interval trigger_config: %w", err)
		}
		if cfg.Seconds == nil && cfg.Minutes == nil && cfg.Hours == nil && cfg.Days == nil {
			return nil, fmt.Errorf("interval trigger_config requires at least one of seconds/minutes/hours/days")
		}
		for _, v := range []*float64{cfg.Seconds, cfg.Minutes, cfg.Hours, cfg.Days} {
			if v != nil && *v <= 0 {
				return nil, fmt.Errorf("interval trigger_config values must be positive")
			}
		}
		if cfg.Duration() <= 0 {
			return nil, fmt.Errorf("interval trigger_config must yield a positive duration")
		}
		return json.Marshal(cfg)

	case model.TriggerCron:
		var cfg CronConfig
		if err := strictDecode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid cron trigger_config: %w", err)
		}
		if _, err := cronParser.Parse(cfg.Expression); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Expression, err)
		}
		return json.Marshal(cfg)

	case model.TriggerDate:
		var cfg DateConfig
		if err := strictDecode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid date trigger_config: %w", err)
		}
		delay, hasDelay := cfg.delay()
		if hasDelay && delay < 0 {
			return nil, fmt.Errorf("date trigger_config delay values must be non-negative")
		}
		if cfg.RunDate == nil && !hasDelay {
			return nil, fmt.Errorf("date trigger_config requires run_date or a delay_* field")
		}
		runDate := now.Add(delay)
		if cfg.RunDate != nil {
			runDate = *cfg.RunDate
		}
		if cfg.RunDate != nil && !cfg.RunDate.After(now) {
			if hasDelay {
				runDate = now.Add(delay)
			} else {
				// Past run_date, no delay given: re-materialize to now+1s per §4.B.
				runDate = now.Add(time.Second)
			}
		}
		cfg.RunDate = &runDate
		return json.Marshal(cfg)

	default:
		return nil, fmt.Errorf("unknown trigger_type %q", triggerType)
	}
}

// NextFire computes the next fire instant for the given trigger, or nil if
// none exists. previouslyPlanned, if non-nil and strictly after reference,
// is returned unchanged (tick-preservation across restarts, §4.B).
func NextFire(triggerType model.TriggerType, raw json.RawMessage, reference time.Time, zone *time.Location, previouslyPlanned *time.Time) (*time.Time, error) {
	if previouslyPlanned != nil && previouslyPlanned.After(reference) {
		pp := *previouslyPlanned
		return &pp, nil
	}

	switch triggerType {
	case model.TriggerInterval:
		var cfg IntervalConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid interval trigger_config: %w", err)
		}
		next := reference.Add(cfg.Duration())
		return &next, nil

	case model.TriggerCron:
		var cfg CronConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid cron trigger_config: %w", err)
		}
		sched, err := cronParser.Parse(cfg.Expression)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Expression, err)
		}
		if zone == nil {
			zone = time.UTC
		}
		next := sched.Next(reference.In(zone))
		if next.IsZero() {
			return nil, nil
		}
		return &next, nil

	case model.TriggerDate:
		var cfg DateConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid date trigger_config: %w", err)
		}
		if cfg.RunDate == nil || !cfg.RunDate.After(reference) {
			return nil, nil
		}
		rd := *cfg.RunDate
		return &rd, nil

	default:
		return nil, fmt.Errorf("unknown trigger_type %q", triggerType)
	}
}

// ParseCronSchedule exposes the cron parser for callers (the scheduler's
// cron timer registry) that need a live cron.Schedule rather than a single
// computed instant.
func ParseCronSchedule(expression string) (cron.Schedule, error) {
	return cronParser.Parse(expression)
}

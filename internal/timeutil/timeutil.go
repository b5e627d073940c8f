// SPDX-License-Identifier: AGPL-3.0-only

// Package timeutil implements Component A: monotonic "now", timezone
// resolution, and localized timestamp rendering. All instants exchanged
// over the wire are absolute (UTC-backed); zone is used only when rendering
// a "*_local" presentation field.
package timeutil

import (
	"sync"
	"time"
)

// Clock abstracts the current instant so the scheduler and execution driver
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reports the actual wall clock, carrying monotonic progress as
// every time.Time returned by time.Now() does.
type RealClock struct{}

// Now returns the current instant.
func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a Clock that only advances when told to, for deterministic
// scheduler and execution driver tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock starting at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// LocalLayout is the wire format for "*_local" presentation fields.
const LocalLayout = "2006-01-02 15:04:05"

// ResolveZone returns the *time.Location for name, falling back to UTC if
// name is unresolvable. An empty name resolves to the host's local zone
// when available, else UTC.
func ResolveZone(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatLocal renders instant in zone using LocalLayout. A nil-equivalent
// (zero) instant renders as "".
func FormatLocal(instant time.Time, zone *time.Location) string {
	if instant.IsZero() {
		return ""
	}
	if zone == nil {
		zone = time.UTC
	}
	return instant.In(zone).Format(LocalLayout)
}

// FormatLocalPtr is FormatLocal for an optional instant, returning "" for nil.
func FormatLocalPtr(instant *time.Time, zone *time.Location) string {
	if instant == nil {
		return ""
	}
	return FormatLocal(*instant, zone)
}

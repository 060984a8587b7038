// Package cooldown tracks, per event type, when a notification was last
// allowed and how long that type must stay silent afterwards.
package cooldown

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ccbell/internal/event"
)

var ErrNegativeInterval = errors.New("cooldown interval must be >= 0")

// Tracker is safe for concurrent use. All reads and writes go through one
// mutex; event rates are low enough that striping is not worth it.
type Tracker struct {
	mu          sync.Mutex
	intervals   map[event.Type]time.Duration
	lastAllowed map[event.Type]time.Time
}

// Entry is a point-in-time view of one event type's cooldown state.
type Entry struct {
	EventType   event.Type    `json:"event_type"`
	Interval    time.Duration `json:"interval"`
	LastAllowed time.Time     `json:"last_allowed,omitempty"`
	Remaining   time.Duration `json:"remaining"`
}

// NewTracker builds a tracker from configured intervals and previously
// persisted last-allowed timestamps (seed may be nil).
func NewTracker(intervals map[event.Type]time.Duration, seed map[event.Type]time.Time) (*Tracker, error) {
	if err := validateIntervals(intervals); err != nil {
		return nil, err
	}
	t := &Tracker{
		intervals:   make(map[event.Type]time.Duration, len(intervals)),
		lastAllowed: make(map[event.Type]time.Time, len(seed)),
	}
	for k, v := range intervals {
		t.intervals[k] = v
	}
	for k, v := range seed {
		if !v.IsZero() {
			t.lastAllowed[k] = v
		}
	}
	return t, nil
}

func validateIntervals(intervals map[event.Type]time.Duration) error {
	for k, v := range intervals {
		if v < 0 {
			return fmt.Errorf("%s: %w", k, ErrNegativeInterval)
		}
	}
	return nil
}

// SetIntervals replaces the configured intervals. Last-allowed timestamps are
// kept so a reload does not reset running cooldowns.
func (t *Tracker) SetIntervals(intervals map[event.Type]time.Duration) error {
	if err := validateIntervals(intervals); err != nil {
		return err
	}
	next := make(map[event.Type]time.Duration, len(intervals))
	for k, v := range intervals {
		next[k] = v
	}
	t.mu.Lock()
	t.intervals = next
	t.mu.Unlock()
	return nil
}

// RemainingCooldown returns how long eventType stays in cooldown at now.
func (t *Tracker) RemainingCooldown(eventType event.Type, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked(eventType, now)
}

func (t *Tracker) remainingLocked(eventType event.Type, now time.Time) time.Duration {
	last, ok := t.lastAllowed[eventType]
	if !ok {
		return 0
	}
	interval := t.intervals[eventType]
	if interval <= 0 {
		return 0
	}
	rem := last.Add(interval).Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

func (t *Tracker) IsInCooldown(eventType event.Type, now time.Time) bool {
	return t.RemainingCooldown(eventType, now) > 0
}

// RecordAllowed marks eventType as allowed at now.
func (t *Tracker) RecordAllowed(eventType event.Type, now time.Time) {
	t.mu.Lock()
	t.lastAllowed[eventType] = now
	t.mu.Unlock()
}

// TryRecord records an allow at now only if eventType is not in cooldown.
// The check and the write happen under one lock, so of several concurrent
// callers at most one wins per interval. On refusal it returns the remaining
// cooldown.
func (t *Tracker) TryRecord(eventType event.Type, now time.Time) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rem := t.remainingLocked(eventType, now); rem > 0 {
		return false, rem
	}
	t.lastAllowed[eventType] = now
	return true, 0
}

// Reset forgets the last-allowed timestamp for eventType.
func (t *Tracker) Reset(eventType event.Type) {
	t.mu.Lock()
	delete(t.lastAllowed, eventType)
	t.mu.Unlock()
}

// Snapshot returns every known event type sorted by name.
func (t *Tracker) Snapshot(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[event.Type]struct{}, len(t.intervals)+len(t.lastAllowed))
	for k := range t.intervals {
		seen[k] = struct{}{}
	}
	for k := range t.lastAllowed {
		seen[k] = struct{}{}
	}
	out := make([]Entry, 0, len(seen))
	for k := range seen {
		out = append(out, Entry{
			EventType:   k,
			Interval:    t.intervals[k],
			LastAllowed: t.lastAllowed[k],
			Remaining:   t.remainingLocked(k, now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

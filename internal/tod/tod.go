// Package tod maintains the configured time-of-day windows and reports
// inside/outside transitions, driving aux-relay auto mode and optional
// host shutdown scheduling (spec §4.9).
package tod

import (
	"fmt"
	"sort"
	"time"
)

// Interval is one (start, end) window expressed as minute-of-UTC-day.
// Invariant: Start < End.
type Interval struct {
	Start int // minute of day, [0, 1440)
	End   int // minute of day, (Start, 1440]
}

// ParseInterval parses a "HH:MM-HH:MM" string into an Interval.
func ParseInterval(s string) (Interval, error) {
	var sh, sm, eh, em int
	n, err := fmt.Sscanf(s, "%d:%d-%d:%d", &sh, &sm, &eh, &em)
	if err != nil || n != 4 {
		return Interval{}, fmt.Errorf("tod: malformed interval %q", s)
	}
	start := sh*60 + sm
	end := eh*60 + em
	if start < 0 || start >= 1440 || end <= start || end > 1440 {
		return Interval{}, fmt.Errorf("tod: invalid interval %q", s)
	}
	return Interval{Start: start, End: end}, nil
}

// Windows holds the sorted, non-overlapping set of active intervals for
// one UTC day and tracks whether "now" last fell inside one of them.
type Windows struct {
	intervals []Interval
	wasActive bool
	activeIdx int
}

// ErrOverlapping is returned by New when two configured intervals
// overlap.
type ErrOverlapping struct {
	A, B Interval
}

func (e *ErrOverlapping) Error() string {
	return fmt.Sprintf("tod: overlapping intervals %v and %v", e.A, e.B)
}

// ErrTooNarrow is returned by New when the union of all intervals covers
// less than the required minimum span (spec §3: "at least a 15-minute
// span").
var ErrTooNarrow = fmt.Errorf("tod: configured intervals must cover at least %d minutes total", MinimumCoverageMinutes)

// MinimumCoverageMinutes is the minimum total span the configured
// windows must cover.
const MinimumCoverageMinutes = 15

// New builds a Windows from unsorted, possibly-overlapping intervals,
// sorting them and rejecting configuration errors.
func New(intervals []Interval) (*Windows, error) {
	sorted := append([]Interval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	total := 0
	for i, iv := range sorted {
		total += iv.End - iv.Start
		if i > 0 && iv.Start < sorted[i-1].End {
			return nil, &ErrOverlapping{A: sorted[i-1], B: iv}
		}
	}
	if total < MinimumCoverageMinutes {
		return nil, ErrTooNarrow
	}
	return &Windows{intervals: sorted, activeIdx: -1}, nil
}

// Transition describes a state flip detected by Evaluate.
type Transition int

// Possible transitions returned by Evaluate.
const (
	// NoChange means the inside/outside state did not flip.
	NoChange Transition = iota
	// BecameActive means now just entered an interval.
	BecameActive
	// BecameInactive means now just left an interval.
	BecameInactive
)

// Evaluate reports the transition (if any) as of now and the interval
// that is active, if any. Exactly one of {inside some interval, outside
// all intervals} holds for any now (spec §8, invariant 5); state only
// flips at interval boundaries, which is guaranteed because Evaluate
// only compares now's boolean membership to the previous call's.
func (w *Windows) Evaluate(now time.Time) (Transition, *Interval) {
	minute := now.UTC().Hour()*60 + now.UTC().Minute()
	idx, active := w.indexContaining(minute)

	if active == w.wasActive {
		w.activeIdx = idx
		if !active {
			return NoChange, nil
		}
		return NoChange, &w.intervals[idx]
	}

	w.wasActive = active
	w.activeIdx = idx
	if active {
		return BecameActive, &w.intervals[idx]
	}
	return BecameInactive, nil
}

func (w *Windows) indexContaining(minute int) (int, bool) {
	for i, iv := range w.intervals {
		if minute >= iv.Start && minute < iv.End {
			return i, true
		}
	}
	return -1, false
}

// ShutdownDeadline returns the instant 2 minutes before the end of the
// currently active interval (spec §4.9's T-2-minutes host shutdown
// scheduling), or the zero Time if no interval is active.
func (w *Windows) ShutdownDeadline(now time.Time) time.Time {
	if w.activeIdx < 0 {
		return time.Time{}
	}
	iv := w.intervals[w.activeIdx]
	midnight := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(time.Duration(iv.End-2) * time.Minute)
}

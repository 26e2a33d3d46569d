// Package aggregate folds meter readings into wall clock aligned windows.
package aggregate

import (
	"time"

	"github.com/temoto/ar844/hardware/ar844"
)

const DefaultPeriod = 60 * time.Second

// Window accumulates readings until the wall clock reaches End().
// Not safe for concurrent use, owned by the acquisition loop.
type Window struct {
	period time.Duration
	end    time.Time

	count     uint32
	sum       uint64
	min, max  uint16
	weighting ar844.Weighting
}

func NewWindow(period time.Duration, now time.Time) *Window {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Window{period: period, end: NextBoundary(now, period)}
}

// NextBoundary returns the first multiple of period (counted from Unix epoch) strictly after now.
func NextBoundary(now time.Time, period time.Duration) time.Time {
	p := int64(period)
	n := now.UnixNano()
	k := n / p
	if n < 0 && n%p != 0 {
		k--
	}
	return time.Unix(0, (k+1)*p).UTC()
}

func (w *Window) Period() time.Duration { return w.period }
func (w *Window) End() time.Time        { return w.end }
func (w *Window) Count() uint32         { return w.count }

// Observe adds reading and returns snapshot when now has reached the window end.
// After a stall the single overdue snapshot covers the whole gap,
// next end is computed from now so no catch-up snapshots are produced.
func (w *Window) Observe(r ar844.Reading, now time.Time) (Snapshot, bool) {
	level := r.LevelTenths
	if w.count == 0 {
		w.min, w.max, w.sum = level, level, uint64(level)
	} else {
		w.sum += uint64(level)
		if level < w.min {
			w.min = level
		}
		if level > w.max {
			w.max = level
		}
	}
	w.count++
	w.weighting = r.Weighting

	if now.Before(w.end) {
		return Snapshot{}, false
	}
	s := Snapshot{
		End:       w.end,
		Avg:       uint16(w.sum / uint64(w.count)),
		Min:       w.min,
		Max:       w.max,
		Count:     w.count,
		Weighting: w.weighting,
	}
	w.reset(now)
	return s, true
}

func (w *Window) reset(now time.Time) {
	w.count, w.sum, w.min, w.max = 0, 0, 0, 0
	w.end = NextBoundary(now, w.period)
}

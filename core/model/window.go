package model

import (
	"errors"
	"time"
)

// ErrInvalidWindow is returned when a query window ends at or before it starts.
var ErrInvalidWindow = errors.New("window end must be after start")

// Window is a time interval against which availability and conflicts are
// evaluated. A zero End makes it a point-in-time check at Start.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// Validate rejects windows with a missing start or a non-positive span.
// Bounds are never swapped or clamped.
func (w Window) Validate() error {
	if w.Start.IsZero() {
		return errors.New("window start is required")
	}
	if !w.End.IsZero() && !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// Overlaps reports whether the interval [start, end) conflicts with the
// window. A zero end means the interval is open-ended. Back-to-back
// intervals do not overlap: the end boundary is exclusive.
//
// With a bounded window the check is half-open: start < w.End and
// (open-ended or end > w.Start). A point-in-time window instead requires
// start <= w.Start.
func (w Window) Overlaps(start, end time.Time) bool {
	if !w.End.IsZero() {
		return start.Before(w.End) && (end.IsZero() || end.After(w.Start))
	}
	return !start.After(w.Start) && (end.IsZero() || end.After(w.Start))
}

// OverlapsTrip applies Overlaps to the trip's schedule.
func (w Window) OverlapsTrip(t Trip) bool {
	return w.Overlaps(t.StartAt, t.EndAt)
}

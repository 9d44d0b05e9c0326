package adjustment

import "time"

// DateLayout is the date format used by every record in the upstream export.
const DateLayout = "2006-01-02"

type Schedule struct {
	StartDate time.Time
	EndDate   time.Time
	StartTime string
	Duration  string
	// Days holds the Monday..Sunday active flags.
	Days [7]bool
}

// OpenSchedule returns a schedule active on every day between start and end.
func OpenSchedule(start, end time.Time) *Schedule {
	s := &Schedule{StartDate: start, EndDate: end}
	for i := range s.Days {
		s.Days[i] = true
	}
	return s
}

// EnsureSchedule synthesizes an open schedule when none was supplied. The dates span
// the adjustment's items; with no items they stay zero. It reports whether a
// schedule was synthesized.
func (a *Adjustment) EnsureSchedule() bool {
	if a.Schedule != nil {
		return false
	}
	var start, end time.Time
	for _, it := range a.Items {
		if !it.StartDate.IsZero() && (start.IsZero() || it.StartDate.Before(start)) {
			start = it.StartDate
		}
		if it.EndDate.After(end) {
			end = it.EndDate
		}
	}
	a.Schedule = OpenSchedule(start, end)
	return true
}

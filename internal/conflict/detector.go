package conflict

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeOverlap          Type = "overlap"
	TypeInsufficientTime Type = "insufficient_time"
	TypeUnavailableHours Type = "unavailable_hours"
	TypeDoubleBooking    Type = "double_booking"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Report is a transient value describing one detected conflict. Callers must
// block submission on error severity; warnings are advisory.
type Report struct {
	Type               Type
	Severity           Severity
	Message            string
	SuggestedSolutions []string
}

// Range is a half-open [Start, End) time interval.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Slot is a declared window during which the professional accepts bookings.
type Slot struct {
	Start time.Time
	End   time.Time
}

func (s Slot) covers(r Range) bool {
	return !r.Start.Before(s.Start) && !r.End.After(s.End)
}

func (s Slot) containsStart(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Detect runs every check against the candidate range and returns all
// matching conflicts, not just the first.
//
// The insufficient-time check compares the matched slot's length against the
// requested duration rather than the candidate range's length; the two can
// differ and the asymmetry is intentional.
func Detect(candidate Range, requested time.Duration, committed []Range, slots []Slot) []Report {
	var reports []Report

	for _, busy := range committed {
		if !candidate.Overlaps(busy) {
			continue
		}
		if candidate.Start.Equal(busy.Start) {
			reports = append(reports, Report{
				Type:     TypeDoubleBooking,
				Severity: SeverityError,
				Message: fmt.Sprintf("slot starting at %s is already booked",
					busy.Start.Format("15:04")),
				SuggestedSolutions: []string{
					"choose a different slot",
					"ask the professional to free up this slot",
				},
			})
			continue
		}
		reports = append(reports, Report{
			Type:     TypeOverlap,
			Severity: SeverityError,
			Message: fmt.Sprintf("requested time overlaps an existing appointment (%s - %s)",
				busy.Start.Format("15:04"), busy.End.Format("15:04")),
			SuggestedSolutions: []string{
				"pick a start time after " + busy.End.Format("15:04"),
				"pick a start time so the appointment ends before " + busy.Start.Format("15:04"),
				"choose another day",
			},
		})
	}

	// Availability requires a single declared slot to cover the whole
	// candidate range. Partial coverage across adjacent slots does not count.
	covered := false
	for _, slot := range slots {
		if slot.covers(candidate) {
			covered = true
			break
		}
	}
	if !covered {
		reports = append(reports, Report{
			Type:     TypeUnavailableHours,
			Severity: SeverityError,
			Message:  "requested time is outside the professional's available hours",
			SuggestedSolutions: []string{
				"choose a time within a declared availability slot",
				"ask the professional to extend their hours for that day",
			},
		})
	}

	// Matched slot = the one containing the candidate start.
	for _, slot := range slots {
		if !slot.containsStart(candidate.Start) {
			continue
		}
		if slot.End.Sub(slot.Start) < requested {
			reports = append(reports, Report{
				Type:     TypeInsufficientTime,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("the matched slot is shorter than the requested %d minutes",
					int(requested.Minutes())),
				SuggestedSolutions: []string{
					"reduce the appointment duration",
					"choose a longer slot",
				},
			})
		}
		break
	}

	return reports
}

// HasBlocking reports whether any conflict is severe enough that the caller
// must refuse the submission.
func HasBlocking(reports []Report) bool {
	for _, r := range reports {
		if r.Severity == SeverityError {
			return true
		}
	}
	return false
}

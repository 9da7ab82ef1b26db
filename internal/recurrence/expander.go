package recurrence

import (
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
)

// MaxSeriesLength caps expansion regardless of the caller-supplied bounds.
// A malformed pattern must never generate an unbounded series.
const MaxSeriesLength = 50

// Expand generates the derived occurrences of an accepted recurring
// appointment. Each derived item copies the base except for its id and start
// time; the base itself is not part of the returned slice.
//
// Expansion stops at the pattern's end date, at max occurrences, or at
// MaxSeriesLength, whichever comes first. Persistence is the caller's
// responsibility.
func Expand(base appointment.Appointment, p appointment.RecurrencePattern, newID func() string) []appointment.Appointment {
	if p.Interval < 1 {
		return nil
	}
	switch p.Frequency {
	case appointment.FrequencyDaily, appointment.FrequencyWeekly, appointment.FrequencyMonthly:
	default:
		return nil
	}

	limit := MaxSeriesLength
	if p.MaxOccurrences > 0 && p.MaxOccurrences < limit {
		limit = p.MaxOccurrences
	}

	var series []appointment.Appointment
	start := base.ScheduledStart
	for len(series) < limit {
		start = advance(start, p.Frequency, p.Interval)
		if p.EndDate != nil && start.After(*p.EndDate) {
			break
		}

		derived := base
		derived.ID = newID()
		derived.ScheduledStart = start
		derived.CandidateTimes = []time.Time{start}
		// Each occurrence goes through its own accept and payment flow.
		derived.Status = appointment.StatusProposed
		derived.CancelledAt = nil
		derived.CancelReason = ""
		// Derived occurrences never re-expand.
		derived.Recurrence = nil
		derived.Version = 1
		series = append(series, derived)
	}
	return series
}

func advance(t time.Time, freq appointment.Frequency, interval int) time.Time {
	switch freq {
	case appointment.FrequencyDaily:
		return t.AddDate(0, 0, interval)
	case appointment.FrequencyWeekly:
		return t.AddDate(0, 0, 7*interval)
	default:
		return t.AddDate(0, interval, 0)
	}
}

package reminder

import (
	"time"
)

// Decision is the dispatch-time verdict for one reminder. A negative
// decision is a silent skip: not an error, not a retry.
type Decision struct {
	Send   bool
	Reason string
}

// RecentActivityWindow is how fresh the recipient's last activity must be
// when a reminder requires it.
const RecentActivityWindow = 24 * time.Hour

// Evaluate re-checks the event's delivery conditions against the current
// moment, in the recipient's timezone. Conditions that were fine at
// scheduling time may fail now and vice versa; only "now" matters.
func Evaluate(evt Event, now time.Time, lastActivity *time.Time) Decision {
	loc := time.UTC
	if evt.Timezone != "" {
		if l, err := time.LoadLocation(evt.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(evt.Conditions.Windows) > 0 && !inAnyWindow(local, evt.Conditions.Windows) {
		return Decision{Reason: "outside allowed time-of-day window"}
	}

	if len(evt.Conditions.Days) > 0 {
		allowed := false
		for _, d := range evt.Conditions.Days {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Reason: "day of week not allowed"}
		}
	}

	if evt.Conditions.RequireRecentActivity {
		if lastActivity == nil || now.Sub(*lastActivity) > RecentActivityWindow {
			return Decision{Reason: "recipient not recently active"}
		}
	}

	return Decision{Send: true}
}

func inAnyWindow(local time.Time, windows []Window) bool {
	minute := local.Hour()*60 + local.Minute()
	for _, w := range windows {
		from, okFrom := clockMinutes(w.From)
		to, okTo := clockMinutes(w.To)
		if !okFrom || !okTo {
			continue
		}
		if from <= to {
			if minute >= from && minute <= to {
				return true
			}
		} else {
			// Wraps past midnight, e.g. 22:00-07:00.
			if minute >= from || minute <= to {
				return true
			}
		}
	}
	return false
}

func clockMinutes(clock string) (int, bool) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

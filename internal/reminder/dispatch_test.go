package reminder

import (
	"testing"
	"time"
)

func TestEvaluate_NoConditionsAlwaysSends(t *testing.T) {
	now := time.Date(2026, 7, 6, 3, 0, 0, 0, time.UTC) // a Monday, 3am
	d := Evaluate(Event{}, now, nil)
	if !d.Send {
		t.Fatalf("unconfigured conditions must not gate delivery: %+v", d)
	}
}

func TestEvaluate_TimeWindowInRecipientTimezone(t *testing.T) {
	evt := Event{
		Timezone:   "Europe/Paris",
		Conditions: Conditions{Windows: []Window{{From: "09:00", To: "18:00"}}},
	}

	// 08:30 UTC = 10:30 in Paris in July (CEST): inside the window.
	now := time.Date(2026, 7, 6, 8, 30, 0, 0, time.UTC)
	if d := Evaluate(evt, now, nil); !d.Send {
		t.Fatalf("10:30 Paris should be inside 09:00-18:00: %+v", d)
	}

	// 20:00 UTC = 22:00 in Paris: outside.
	now = time.Date(2026, 7, 6, 20, 0, 0, 0, time.UTC)
	if d := Evaluate(evt, now, nil); d.Send {
		t.Fatal("22:00 Paris should be outside 09:00-18:00")
	}
}

func TestEvaluate_WindowWrappingMidnight(t *testing.T) {
	evt := Event{Conditions: Conditions{Windows: []Window{{From: "22:00", To: "07:00"}}}}

	if d := Evaluate(evt, time.Date(2026, 7, 6, 23, 30, 0, 0, time.UTC), nil); !d.Send {
		t.Fatalf("23:30 should be inside a 22:00-07:00 window: %+v", d)
	}
	if d := Evaluate(evt, time.Date(2026, 7, 6, 6, 0, 0, 0, time.UTC), nil); !d.Send {
		t.Fatalf("06:00 should be inside a 22:00-07:00 window: %+v", d)
	}
	if d := Evaluate(evt, time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC), nil); d.Send {
		t.Fatal("noon should be outside a 22:00-07:00 window")
	}
}

func TestEvaluate_DayOfWeek(t *testing.T) {
	evt := Event{Conditions: Conditions{Days: []time.Weekday{time.Saturday, time.Sunday}}}

	saturday := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)
	if d := Evaluate(evt, saturday, nil); !d.Send {
		t.Fatalf("Saturday should be allowed: %+v", d)
	}

	monday := time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC)
	if d := Evaluate(evt, monday, nil); d.Send {
		t.Fatal("Monday should be skipped")
	}
}

func TestEvaluate_RecentActivity(t *testing.T) {
	evt := Event{Conditions: Conditions{RequireRecentActivity: true}}
	now := time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC)

	if d := Evaluate(evt, now, nil); d.Send {
		t.Fatal("unknown last activity must skip")
	}

	stale := now.Add(-25 * time.Hour)
	if d := Evaluate(evt, now, &stale); d.Send {
		t.Fatal("activity older than 24h must skip")
	}

	fresh := now.Add(-2 * time.Hour)
	if d := Evaluate(evt, now, &fresh); !d.Send {
		t.Fatalf("fresh activity should send: %+v", d)
	}
}

func TestEvaluate_FirstFailingConditionWins(t *testing.T) {
	evt := Event{
		Conditions: Conditions{
			Windows:               []Window{{From: "09:00", To: "18:00"}},
			Days:                  []time.Weekday{time.Monday},
			RequireRecentActivity: true,
		},
	}
	// Monday noon, fresh activity: all conditions pass.
	now := time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)
	if d := Evaluate(evt, now, &fresh); !d.Send {
		t.Fatalf("all conditions satisfied, expected send: %+v", d)
	}

	// Same moment, no activity: skipped with a reason.
	if d := Evaluate(evt, now, nil); d.Send || d.Reason == "" {
		t.Fatalf("expected a reasoned skip, got %+v", d)
	}
}

package recurrence

import (
	"fmt"
	"testing"
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
)

func idSequence() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("derived-%d", n)
	}
}

func baseAppointment(start time.Time) appointment.Appointment {
	return appointment.Appointment{
		ID:              "base",
		Title:           "Weekly touch-up",
		ScheduledStart:  start,
		DurationMinutes: 60,
		Status:          appointment.StatusAccepted,
	}
}

func TestExpand_WeeklyBoundedByMaxOccurrences(t *testing.T) {
	start := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	series := Expand(baseAppointment(start), appointment.RecurrencePattern{
		Frequency:      appointment.FrequencyWeekly,
		Interval:       2,
		MaxOccurrences: 3,
	}, idSequence())

	if len(series) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(series))
	}
	for i, occ := range series {
		want := start.AddDate(0, 0, 14*(i+1))
		if !occ.ScheduledStart.Equal(want) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, want, occ.ScheduledStart)
		}
		if occ.ID == "base" || occ.ID == "" {
			t.Fatalf("occurrence %d must get a fresh id, got %q", i, occ.ID)
		}
		if occ.Recurrence != nil {
			t.Fatalf("occurrence %d must not carry the pattern", i)
		}
	}
}

func TestExpand_StopsAtEndDate(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)
	series := Expand(baseAppointment(start), appointment.RecurrencePattern{
		Frequency: appointment.FrequencyDaily,
		Interval:  3,
		EndDate:   &end,
	}, idSequence())

	// Day 3, 6, 9 fit; day 12 exceeds the end date.
	if len(series) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(series))
	}
}

func TestExpand_HardCeiling(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.AddDate(10, 0, 0)
	series := Expand(baseAppointment(start), appointment.RecurrencePattern{
		Frequency:      appointment.FrequencyDaily,
		Interval:       1,
		EndDate:        &end,
		MaxOccurrences: 10000,
	}, idSequence())

	if len(series) != MaxSeriesLength {
		t.Fatalf("expected the %d ceiling to hold, got %d", MaxSeriesLength, len(series))
	}
}

func TestExpand_MonthlyPreservesFields(t *testing.T) {
	start := time.Date(2026, 6, 15, 11, 30, 0, 0, time.UTC)
	base := baseAppointment(start)
	series := Expand(base, appointment.RecurrencePattern{
		Frequency:      appointment.FrequencyMonthly,
		Interval:       1,
		MaxOccurrences: 2,
	}, idSequence())

	if len(series) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(series))
	}
	first := series[0]
	if !first.ScheduledStart.Equal(start.AddDate(0, 1, 0)) {
		t.Fatalf("expected one month later, got %s", first.ScheduledStart)
	}
	if first.Title != base.Title || first.DurationMinutes != base.DurationMinutes {
		t.Fatalf("derived occurrence must copy the base fields, got %+v", first)
	}
	if first.Status != appointment.StatusProposed {
		t.Fatalf("derived occurrence must start over as proposed, got %s", first.Status)
	}
}

func TestExpand_InvalidPattern(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	if got := Expand(baseAppointment(start), appointment.RecurrencePattern{Frequency: "yearly", Interval: 1}, idSequence()); got != nil {
		t.Fatalf("unknown frequency should expand to nothing, got %d", len(got))
	}
	if got := Expand(baseAppointment(start), appointment.RecurrencePattern{Frequency: appointment.FrequencyDaily, Interval: 0}, idSequence()); got != nil {
		t.Fatalf("zero interval should expand to nothing, got %d", len(got))
	}
}

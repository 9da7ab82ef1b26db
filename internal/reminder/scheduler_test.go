package reminder

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
)

func testScheduler() Scheduler {
	n := 0
	return Scheduler{NewID: func() string {
		n++
		return fmt.Sprintf("rem-%d", n)
	}}
}

func bookingFixture(start time.Time) appointment.Appointment {
	return appointment.Appointment{
		ID:              "appt-1",
		ProID:           "pro-1",
		ClientID:        "client-1",
		ScheduledStart:  start,
		DurationMinutes: 60,
		Status:          appointment.StatusAccepted,
	}
}

func findAt(t *testing.T, events []Event, at time.Time) Event {
	t.Helper()
	for _, e := range events {
		if e.ScheduledFor.Equal(at) {
			return e
		}
	}
	t.Fatalf("no event scheduled at %s in %+v", at, events)
	return Event{}
}

func TestForBooking_FullSet(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	start := now.Add(48 * time.Hour)
	events := testScheduler().ForBooking(bookingFixture(start), Preferences{Timezone: "Europe/Paris"}, Preferences{}, now)

	// 24h, 2h, 30m client reminders + 1h pro reminder + follow-up.
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %+v", len(events), events)
	}

	e := findAt(t, events, start.Add(-24*time.Hour))
	if e.Priority != PriorityNormal || e.UserID != "client-1" || e.Type != TypeBooking {
		t.Fatalf("24h reminder wrong: %+v", e)
	}
	if e.Timezone != "Europe/Paris" {
		t.Fatalf("client reminder must carry the client's timezone, got %q", e.Timezone)
	}

	e = findAt(t, events, start.Add(-30*time.Minute))
	if e.Priority != PriorityHigh {
		t.Fatalf("30m reminder should be high priority: %+v", e)
	}

	e = findAt(t, events, start.Add(-time.Hour))
	if e.UserID != "pro-1" {
		t.Fatalf("1h reminder should target the professional: %+v", e)
	}
	p, ok := e.Payload.(BookingPayload)
	if !ok || p.Role != "pro" {
		t.Fatalf("pro reminder payload wrong: %+v", e.Payload)
	}

	e = findAt(t, events, start.Add(2*time.Hour))
	if e.Type != TypeFollowUp || e.UserID != "client-1" {
		t.Fatalf("follow-up wrong: %+v", e)
	}
}

func TestForBooking_PastOffsetsDropped(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	start := now.Add(90 * time.Minute) // 24h and 2h offsets already passed
	events := testScheduler().ForBooking(bookingFixture(start), Preferences{}, Preferences{}, now)

	// 30m client + 1h pro + follow-up.
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	findAt(t, events, start.Add(-30*time.Minute))
	findAt(t, events, start.Add(-time.Hour))
	findAt(t, events, start.Add(2*time.Hour))
}

func TestForBooking_FollowUpIsUnconditional(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	start := now.Add(2 * time.Minute) // every lead-up offset is in the past
	events := testScheduler().ForBooking(bookingFixture(start), Preferences{}, Preferences{}, now)

	if len(events) != 1 {
		t.Fatalf("expected only the follow-up, got %d: %+v", len(events), events)
	}
	if events[0].Type != TypeFollowUp {
		t.Fatalf("expected follow-up, got %+v", events[0])
	}
}

func TestForPayment_Escalation(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	rec := ledger.PaymentRecord{
		ID:            "pay-1",
		AppointmentID: "appt-1",
		Amount:        decimal.NewFromInt(140),
		Status:        ledger.StatusPending,
		CreatedAt:     now,
	}

	events := testScheduler().ForPayment(rec, "client-1", "EUR", Preferences{}, now)
	if len(events) != 4 {
		t.Fatalf("expected 4 escalation reminders, got %d: %+v", len(events), events)
	}

	due := now.Add(PaymentDueAfter)
	e := findAt(t, events, due.Add(-72*time.Hour))
	if e.Priority != PriorityNormal {
		t.Fatalf("3-day reminder should be normal priority: %+v", e)
	}
	e = findAt(t, events, due.Add(-time.Hour))
	if e.Priority != PriorityHigh {
		t.Fatalf("1-hour reminder should be high priority: %+v", e)
	}
	p, ok := e.Payload.(PaymentPayload)
	if !ok || p.PaymentID != "pay-1" || !p.DueAt.Equal(due) {
		t.Fatalf("payment payload wrong: %+v", e.Payload)
	}
}

func TestForPayment_CompletedGetsNothing(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	rec := ledger.PaymentRecord{ID: "pay-1", Status: ledger.StatusCompleted, CreatedAt: now}
	if events := testScheduler().ForPayment(rec, "client-1", "EUR", Preferences{}, now); len(events) != 0 {
		t.Fatalf("completed payment must not schedule reminders, got %+v", events)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := MarshalPayload(BookingPayload{AppointmentID: "appt-1", Role: "client"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	p, err := UnmarshalPayload(raw)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got, ok := p.(BookingPayload)
	if !ok || got.AppointmentID != "appt-1" || got.Role != "client" {
		t.Fatalf("round trip lost data: %+v", p)
	}

	if _, err := UnmarshalPayload([]byte(`{"kind":"mystery","data":{}}`)); err == nil {
		t.Fatal("unknown kind must fail, not default")
	}
}

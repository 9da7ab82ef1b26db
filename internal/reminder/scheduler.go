package reminder

import (
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
)

// Preferences carry the per-user delivery settings reminders are created
// with. The conditions are re-checked when the reminder fires.
type Preferences struct {
	Timezone   string
	Conditions Conditions
}

// Scheduler turns lifecycle triggers into reminder events. It only computes
// the set; nothing is sent here.
type Scheduler struct {
	NewID func() string
}

var bookingOffsets = []struct {
	before   time.Duration
	priority Priority
}{
	{24 * time.Hour, PriorityNormal},
	{2 * time.Hour, PriorityHigh},
	{30 * time.Minute, PriorityHigh},
}

// PaymentDueAfter is how long after the payment request the balance is due.
const PaymentDueAfter = 7 * 24 * time.Hour

var paymentOffsets = []struct {
	before   time.Duration
	priority Priority
}{
	{72 * time.Hour, PriorityNormal},
	{24 * time.Hour, PriorityHigh},
	{6 * time.Hour, PriorityHigh},
	{time.Hour, PriorityHigh},
}

// ForBooking computes the reminder set for a freshly accepted appointment:
// lead-up reminders for the client, a one-hour heads-up for the professional,
// and a follow-up two hours after the start.
//
// Lead-up offsets that already lie in the past are dropped. The follow-up is
// appended unconditionally: it is a distinct reminder type created once, at
// booking time.
func (s Scheduler) ForBooking(appt appointment.Appointment, client, pro Preferences, now time.Time) []Event {
	var events []Event

	for _, o := range bookingOffsets {
		at := appt.ScheduledStart.Add(-o.before)
		if !at.After(now) {
			continue
		}
		events = append(events, Event{
			ID:           s.NewID(),
			UserID:       appt.ClientID,
			Type:         TypeBooking,
			Priority:     o.priority,
			ScheduledFor: at,
			Timezone:     client.Timezone,
			Conditions:   client.Conditions,
			Payload:      BookingPayload{AppointmentID: appt.ID, ScheduledStart: appt.ScheduledStart, Role: "client"},
			MaxRetries:   DefaultMaxRetries,
		})
	}

	if at := appt.ScheduledStart.Add(-time.Hour); at.After(now) {
		events = append(events, Event{
			ID:           s.NewID(),
			UserID:       appt.ProID,
			Type:         TypeBooking,
			Priority:     PriorityHigh,
			ScheduledFor: at,
			Timezone:     pro.Timezone,
			Conditions:   pro.Conditions,
			Payload:      BookingPayload{AppointmentID: appt.ID, ScheduledStart: appt.ScheduledStart, Role: "pro"},
			MaxRetries:   DefaultMaxRetries,
		})
	}

	events = append(events, Event{
		ID:           s.NewID(),
		UserID:       appt.ClientID,
		Type:         TypeFollowUp,
		Priority:     PriorityNormal,
		ScheduledFor: appt.ScheduledStart.Add(2 * time.Hour),
		Timezone:     client.Timezone,
		Conditions:   client.Conditions,
		Payload:      FollowUpPayload{AppointmentID: appt.ID, ScheduledStart: appt.ScheduledStart},
		MaxRetries:   DefaultMaxRetries,
	})

	return events
}

// ForPayment computes the escalation set for an outstanding payment request:
// reminders at fixed offsets before the due date (request time + 7 days),
// again dropping offsets already in the past. A payment that has already
// completed gets no reminders at all.
func (s Scheduler) ForPayment(rec ledger.PaymentRecord, userID, currency string, client Preferences, now time.Time) []Event {
	if rec.Status == ledger.StatusCompleted {
		return nil
	}

	due := rec.CreatedAt.Add(PaymentDueAfter)
	var events []Event
	for _, o := range paymentOffsets {
		at := due.Add(-o.before)
		if !at.After(now) {
			continue
		}
		events = append(events, Event{
			ID:           s.NewID(),
			UserID:       userID,
			Type:         TypePayment,
			Priority:     o.priority,
			ScheduledFor: at,
			Timezone:     client.Timezone,
			Conditions:   client.Conditions,
			Payload: PaymentPayload{
				AppointmentID: rec.AppointmentID,
				PaymentID:     rec.ID,
				Amount:        rec.Amount,
				Currency:      currency,
				DueAt:         due,
			},
			MaxRetries: DefaultMaxRetries,
		})
	}
	return events
}

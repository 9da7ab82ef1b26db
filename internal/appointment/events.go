package appointment

import (
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/refund"
)

// EventType values double as Kafka topic names via the outbox.
type EventType string

const (
	EventProposed        EventType = "booking.appointment.proposed.v1"
	EventAccepted        EventType = "booking.appointment.accepted.v1"
	EventRejected        EventType = "booking.appointment.rejected.v1"
	EventConfirmed       EventType = "booking.appointment.confirmed.v1"
	EventPaymentRecorded EventType = "booking.payment.recorded.v1"
	EventPaid            EventType = "booking.appointment.paid.v1"
	EventCancelled       EventType = "booking.appointment.cancelled.v1"
	EventCompleted       EventType = "booking.appointment.completed.v1"
)

// Event is a domain event produced by a transition. The orchestrating layer
// writes events to the outbox in the same transaction as the state change.
type Event struct {
	Type        EventType
	Appointment Appointment
	Payment     *ledger.PaymentRecord
	Refund      *refund.Outcome
	ActorID     string
	Reason      string
	OccurredAt  time.Time
}

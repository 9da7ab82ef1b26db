package appointment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusProposed  Status = "proposed"
	StatusAccepted  Status = "accepted"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RecurrencePattern describes how an accepted appointment expands into a
// series. EndDate and MaxOccurrences are both optional bounds; a hard ceiling
// applies regardless (see the recurrence package).
type RecurrencePattern struct {
	Frequency      Frequency  `json:"frequency"`
	Interval       int        `json:"interval"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"`
}

type Appointment struct {
	ID             string
	ProposerID     string
	CounterpartyID string
	ProID          string
	ClientID       string

	Title           string
	Description     string
	ScheduledStart  time.Time
	DurationMinutes int
	Location        string
	Currency        string
	Price           decimal.Decimal
	MaxParticipants int

	DepositRequired bool
	DepositAmount   decimal.Decimal

	Status         Status
	CandidateTimes []time.Time
	Recurrence     *RecurrencePattern

	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time

	// Version supports optimistic concurrency: every persisted transition
	// bumps it, and writers compare against the version they read.
	Version int
}

func (a Appointment) ScheduledEnd() time.Time {
	return a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// IsTerminal reports whether the appointment accepts no further transitions.
func (a Appointment) IsTerminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusCancelled
}

// Draft is the caller-supplied input to Propose.
type Draft struct {
	ProposerID      string
	CounterpartyID  string
	ProID           string
	ClientID        string
	Title           string
	Description     string
	DurationMinutes int
	Location        string
	Currency        string
	Price           decimal.Decimal
	MaxParticipants int
	DepositRequired bool
	DepositAmount   decimal.Decimal
	CandidateTimes  []time.Time
	Recurrence      *RecurrencePattern
}

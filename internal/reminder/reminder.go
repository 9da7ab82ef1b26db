package reminder

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeBooking   Type = "booking"
	TypePayment   Type = "payment"
	TypeFollowUp  Type = "follow_up"
	TypeMarketing Type = "marketing"
	TypeSystem    Type = "system"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// DefaultMaxRetries bounds delivery-channel retries. Condition skips never
// count against it.
const DefaultMaxRetries = 3

// Window is an allowed time-of-day range in the recipient's timezone,
// "15:04" clock values. From > To wraps past midnight (e.g. 22:00-07:00).
type Window struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Conditions gate delivery. They are re-evaluated at dispatch time, not at
// creation: a reminder scheduled days ahead honors the recipient's settings
// as they are when it fires.
type Conditions struct {
	Windows               []Window       `json:"windows,omitempty"`
	Days                  []time.Weekday `json:"days,omitempty"`
	RequireRecentActivity bool           `json:"require_recent_activity,omitempty"`
}

// RepeatRule re-queues a reminder after each successful delivery until Count
// occurrences have fired.
type RepeatRule struct {
	Every time.Duration `json:"every"`
	Count int           `json:"count"`
}

// Event is one scheduled reminder for one user.
type Event struct {
	ID           string
	UserID       string
	Type         Type
	Priority     Priority
	ScheduledFor time.Time
	Timezone     string
	Conditions   Conditions
	Repeat       *RepeatRule
	Payload      Payload
	RetryCount   int
	MaxRetries   int
}

// Payload is a closed union: exactly one concrete payload type per reminder
// type, so every notification's fields are compile-time checked instead of
// living in a free-form map.
type Payload interface {
	Kind() Type
}

type BookingPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	ScheduledStart time.Time `json:"scheduled_start"`
	// Role is "client" or "pro", deciding which side the message addresses.
	Role string `json:"role"`
}

func (BookingPayload) Kind() Type { return TypeBooking }

type PaymentPayload struct {
	AppointmentID string          `json:"appointment_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DueAt         time.Time       `json:"due_at"`
}

func (PaymentPayload) Kind() Type { return TypePayment }

type FollowUpPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	ScheduledStart time.Time `json:"scheduled_start"`
}

func (FollowUpPayload) Kind() Type { return TypeFollowUp }

type MarketingPayload struct {
	Campaign string `json:"campaign"`
	Message  string `json:"message"`
}

func (MarketingPayload) Kind() Type { return TypeMarketing }

type SystemPayload struct {
	Message string `json:"message"`
}

func (SystemPayload) Kind() Type { return TypeSystem }

type payloadEnvelope struct {
	Kind Type            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func MarshalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{Kind: p.Kind(), Data: data})
}

func UnmarshalPayload(raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case TypeBooking:
		var p BookingPayload
		return p, json.Unmarshal(env.Data, &p)
	case TypePayment:
		var p PaymentPayload
		return p, json.Unmarshal(env.Data, &p)
	case TypeFollowUp:
		var p FollowUpPayload
		return p, json.Unmarshal(env.Data, &p)
	case TypeMarketing:
		var p MarketingPayload
		return p, json.Unmarshal(env.Data, &p)
	case TypeSystem:
		var p SystemPayload
		return p, json.Unmarshal(env.Data, &p)
	default:
		return nil, fmt.Errorf("unknown reminder payload kind %q", env.Kind)
	}
}

package refund

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierFull    Tier = "full"
	TierPartial Tier = "partial"
	TierNone    Tier = "none"
)

// Outcome is what the cancelling user is shown before confirming.
type Outcome struct {
	Amount decimal.Decimal
	Tier   Tier
}

var half = decimal.NewFromInt(2)

// Compute maps the time remaining before the appointment and the amount paid
// so far onto a refund. 48h or more out refunds everything, 24h or more
// refunds half, anything closer refunds nothing.
//
// Cancelling after the scheduled time falls through to the no-refund tier on
// purpose; past-due appointments are not special-cased.
func Compute(now, scheduledStart time.Time, paid decimal.Decimal) Outcome {
	until := scheduledStart.Sub(now)
	switch {
	case until >= 48*time.Hour:
		return Outcome{Amount: paid, Tier: TierFull}
	case until >= 24*time.Hour:
		return Outcome{Amount: paid.Div(half), Tier: TierPartial}
	default:
		return Outcome{Amount: decimal.Zero, Tier: TierNone}
	}
}

package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
	StatusRefunded  PaymentStatus = "refunded"
)

// Tags distinguish what a payment was requested for. The ledger itself does
// not care: totals are computed over completed amounts regardless of tag.
const (
	TagDeposit = "deposit"
	TagBalance = "balance"
)

// PaymentRecord is an append-only ledger entry owned by one appointment.
// After creation the only permitted mutation is pending -> completed|failed.
type PaymentRecord struct {
	ID                string
	AppointmentID     string
	Amount            decimal.Decimal
	Status            PaymentStatus
	Tag               string
	ProviderSessionID string
	CreatedAt         time.Time
}

// PaidAmount sums the completed entries of the ledger.
func PaidAmount(records []PaymentRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		if rec.Status == StatusCompleted {
			total = total.Add(rec.Amount)
		}
	}
	return total
}

// Outstanding is price minus paid-to-date, floored at zero.
func Outstanding(price decimal.Decimal, records []PaymentRecord) decimal.Decimal {
	rest := price.Sub(PaidAmount(records))
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// HasDepositCleared reports whether completed payments cover the deposit.
// Order-independent: a single larger payment also satisfies it.
func HasDepositCleared(depositAmount decimal.Decimal, records []PaymentRecord) bool {
	return PaidAmount(records).GreaterThanOrEqual(depositAmount)
}

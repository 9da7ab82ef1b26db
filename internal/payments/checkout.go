package payments

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
)

// Session is the subset of a provider checkout session the booking flow needs.
type Session struct {
	ID  string
	URL string
}

// CheckoutProvider opens Stripe Checkout sessions for deposit and balance
// payments. One session corresponds to one pending ledger record.
type CheckoutProvider struct {
	secretKey  string
	successURL string
	cancelURL  string
}

type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

func NewCheckoutProvider(cfg Config) *CheckoutProvider {
	return &CheckoutProvider{
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
	}
}

func (p *CheckoutProvider) Configured() bool {
	return p.secretKey != "" && p.successURL != "" && p.cancelURL != ""
}

// Open creates a one-time-payment checkout session for the given ledger
// record. The metadata round-trips through the completed-session webhook so
// the settlement path can find the record again.
func (p *CheckoutProvider) Open(_ context.Context, rec ledger.PaymentRecord, currency, title, idempotencyKey string) (Session, error) {
	// Stripe uses a global API key. Keep usage limited to this call.
	stripe.Key = p.secretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(rec.AppointmentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(currency)),
					UnitAmount: stripe.Int64(MinorUnits(rec.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(title),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"appointment_id": rec.AppointmentID,
			"payment_id":     rec.ID,
			"tag":            rec.Tag,
		},
	}
	params.AddExpand("url")
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

// MinorUnits converts a major-unit decimal amount to the provider's integer
// minor units, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

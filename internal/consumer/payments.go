package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/booking"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
)

type paymentSettledMessage struct {
	AppointmentID string `json:"appointment_id"`
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"` // completed | failed
}

// PaymentSettlementHandler applies settlements announced by an external
// payments system on the payments settlement topic. Terminal appointments
// and unknown payments are logged and dropped, not retried.
func PaymentSettlementHandler(svc *booking.Service, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var body paymentSettledMessage
		if err := json.Unmarshal(msg.Value, &body); err != nil {
			return fmt.Errorf("invalid settlement payload: %w", err)
		}
		body.AppointmentID = strings.TrimSpace(body.AppointmentID)
		body.PaymentID = strings.TrimSpace(body.PaymentID)

		var outcome ledger.PaymentStatus
		switch strings.TrimSpace(strings.ToLower(body.Status)) {
		case "completed":
			outcome = ledger.StatusCompleted
		case "failed":
			outcome = ledger.StatusFailed
		default:
			return fmt.Errorf("unknown settlement status %q", body.Status)
		}
		if body.AppointmentID == "" || body.PaymentID == "" {
			return errors.New("settlement missing appointment_id or payment_id")
		}

		tx, err := svc.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := svc.Settle(ctx, tx, body.AppointmentID, body.PaymentID, outcome, time.Now().UTC()); err != nil {
			if errors.Is(err, appointment.ErrNotFound) || errors.Is(err, appointment.ErrAlreadyFinalized) {
				logger.Warn("settlement dropped",
					"appointment_id", body.AppointmentID, "payment_id", body.PaymentID, "reason", err.Error())
				return nil
			}
			return err
		}
		return tx.Commit(ctx)
	}
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
)

type WebhookConfig struct {
	Secret           string
	ToleranceSeconds int
}

// StripeWebhook settles ledger records from provider callbacks. Signature
// verification is the auth; the endpoint is public.
func (h *AppointmentHandler) StripeWebhook(cfg WebhookConfig) http.HandlerFunc {
	tolerance := time.Duration(cfg.ToleranceSeconds) * time.Second
	if tolerance <= 0 {
		tolerance = 300 * time.Second
	}
	secret := strings.TrimSpace(cfg.Secret)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if secret == "" {
			http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if strings.TrimSpace(sigHeader) == "" {
			http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, secret, tolerance)
		if err != nil {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		occurredAt := time.Unix(evt.Created, 0).UTC()
		evtType := string(evt.Type)
		h.logger.Info("payment provider event received",
			"provider", "stripe",
			"provider_event_id", evt.ID,
			"event_type", evtType,
			"occurred_at", occurredAt.Format(time.RFC3339),
		)

		var outcome ledger.PaymentStatus
		switch evtType {
		case "checkout.session.completed", "checkout.session.async_payment_succeeded":
			outcome = ledger.StatusCompleted
		case "checkout.session.expired", "checkout.session.async_payment_failed":
			outcome = ledger.StatusFailed
		default:
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}

		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		appointmentID := strings.TrimSpace(session.Metadata["appointment_id"])
		paymentID := strings.TrimSpace(session.Metadata["payment_id"])
		if appointmentID == "" || paymentID == "" {
			h.logger.Warn("stripe: missing metadata on checkout session (appointment_id/payment_id)")
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}

		ctx := r.Context()
		tx, err := h.svc.Begin(ctx)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = tx.Rollback(ctx) }()

		// Replayed deliveries commit the dedup row and stop there.
		fresh, err := h.repo.RecordProviderEvent(ctx, tx, evt.ID, evtType)
		if err != nil {
			http.Error(w, "failed to record provider event", http.StatusInternalServerError)
			return
		}
		if !fresh {
			h.logger.Info("payment provider event duplicate ignored", "provider_event_id", evt.ID)
			_ = tx.Commit(ctx)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}

		if _, err := h.svc.Settle(ctx, tx, appointmentID, paymentID, outcome, time.Now().UTC()); err != nil {
			h.writeError(w, err)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			http.Error(w, "failed to commit", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

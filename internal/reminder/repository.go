package reminder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	otelx "github.com/antoine13330/INKSPOT-5z-sub000/libs/otel"
)

// StoredEvent is one persisted reminder row. PaymentID is denormalized from
// the payload so pending payment reminders can be cancelled in one statement
// when the payment settles.
type StoredEvent struct {
	RowID       int64
	Event       Event
	PaymentID   string
	Traceparent string
	Tracestate  string
	NextRunAt   time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	conditions, err := json.Marshal(evt.Conditions)
	if err != nil {
		return err
	}
	var repeat []byte
	if evt.Repeat != nil {
		repeat, err = json.Marshal(evt.Repeat)
		if err != nil {
			return err
		}
	}
	payload, err := MarshalPayload(evt.Payload)
	if err != nil {
		return err
	}
	var paymentID string
	if p, ok := evt.Payload.(PaymentPayload); ok {
		paymentID = p.PaymentID
	}
	maxRetries := evt.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO reminder_events
			(reminder_id, user_id, type, priority, scheduled_for, timezone, conditions, repeat_rule,
			 payload, payment_id, max_retries, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $5, $12, $13)
		ON CONFLICT (reminder_id) DO NOTHING
	`, evt.ID, evt.UserID, string(evt.Type), string(evt.Priority), evt.ScheduledFor, evt.Timezone,
		conditions, repeat, payload, paymentID, maxRetries, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]StoredEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, reminder_id, user_id, type, priority, scheduled_for, timezone, conditions,
			repeat_rule, payload, COALESCE(payment_id, ''), retry_count, max_retries, next_run_at,
			traceparent, tracestate
		FROM reminder_events
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var s StoredEvent
		var typ, priority string
		var conditions, repeat, payload []byte
		if err := rows.Scan(&s.RowID, &s.Event.ID, &s.Event.UserID, &typ, &priority,
			&s.Event.ScheduledFor, &s.Event.Timezone, &conditions, &repeat, &payload,
			&s.PaymentID, &s.Event.RetryCount, &s.Event.MaxRetries, &s.NextRunAt,
			&s.Traceparent, &s.Tracestate); err != nil {
			return nil, err
		}
		s.Event.Type = Type(typ)
		s.Event.Priority = Priority(priority)
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &s.Event.Conditions); err != nil {
				return nil, err
			}
		}
		if len(repeat) > 0 {
			var rule RepeatRule
			if err := json.Unmarshal(repeat, &rule); err != nil {
				return nil, err
			}
			s.Event.Repeat = &rule
		}
		if s.Event.Payload, err = UnmarshalPayload(payload); err != nil {
			return nil, err
		}
		events = append(events, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_events
		SET status = 'sent', sent_at = now(), updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// MarkSkipped records a condition miss. Skips are terminal and do not
// count as delivery failures.
func (r *Repository) MarkSkipped(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_events
		SET status = 'skipped', last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, reason)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, retryCount, maxRetries int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if retryCount >= maxRetries {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_events
		SET retry_count = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, retryCount, status, nextRunAt, lastError)
	return err
}

// Requeue schedules the next occurrence of a repeating reminder after a
// successful delivery.
func (r *Repository) Requeue(ctx context.Context, tx pgx.Tx, evt Event, at time.Time, remaining int) error {
	repeat, err := json.Marshal(RepeatRule{Every: evt.Repeat.Every, Count: remaining})
	if err != nil {
		return err
	}
	conditions, err := json.Marshal(evt.Conditions)
	if err != nil {
		return err
	}
	payload, err := MarshalPayload(evt.Payload)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO reminder_events
			(reminder_id, user_id, type, priority, scheduled_for, timezone, conditions, repeat_rule,
			 payload, max_retries, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $5, $11, $12)
	`, evt.ID+"/"+at.UTC().Format(time.RFC3339), evt.UserID, string(evt.Type), string(evt.Priority),
		at, evt.Timezone, conditions, repeat, payload, evt.MaxRetries, traceparent, tracestate)
	return err
}

// CancelPendingForPayment drops queued reminders for a payment that no longer
// needs them, e.g. because it settled or its appointment was cancelled.
func (r *Repository) CancelPendingForPayment(ctx context.Context, tx pgx.Tx, paymentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_events
		SET status = 'cancelled', updated_at = now()
		WHERE payment_id = $1 AND status = 'pending'
	`, paymentID)
	return err
}

// CancelPendingForAppointment drops queued booking and follow-up reminders
// referencing a cancelled appointment.
func (r *Repository) CancelPendingForAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_events
		SET status = 'cancelled', updated_at = now()
		WHERE status = 'pending'
			AND type IN ('booking', 'follow_up')
			AND payload -> 'data' ->> 'appointment_id' = $1
	`, appointmentID)
	return err
}

package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type IdempotencyRecord struct {
	ProposerID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// LockIdempotencyKey claims (proposer, key) for the current transaction. The
// returned bool reports whether the key existed before this call; an existing
// record carries the response recorded by the first attempt.
func (r *AppointmentRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, proposerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, proposerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO proposal_idempotency_keys (proposer_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (proposer_id, idempotency_key) DO NOTHING
	`, proposerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, proposerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, proposerID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE proposal_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE proposer_id = $1 AND idempotency_key = $2
	`, proposerID, key, appointmentID, statusCode, response)
	return err
}

func (r *AppointmentRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, proposerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT proposer_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM proposal_idempotency_keys
		WHERE proposer_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, proposerID, key).Scan(
		&rec.ProposerID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

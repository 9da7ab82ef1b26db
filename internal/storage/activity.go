package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Touch records that a user was active now. Reminder conditions that require
// recent activity read this back at dispatch time.
func (r *AppointmentRepository) Touch(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_activity (user_id, last_seen_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_seen_at = GREATEST(user_activity.last_seen_at, EXCLUDED.last_seen_at)
	`, userID, at)
	return err
}

// LastActivity returns nil when the user has never been seen.
func (r *AppointmentRepository) LastActivity(ctx context.Context, userID string) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT last_seen_at FROM user_activity WHERE user_id = $1
	`, userID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// RecordProviderEvent deduplicates provider webhook deliveries. It returns
// false when the event id was already processed.
func (r *AppointmentRepository) RecordProviderEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

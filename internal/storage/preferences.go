package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/reminder"
)

// GetPreferences loads a user's reminder delivery settings. Users without a
// stored row get UTC and no delivery conditions.
func (r *AppointmentRepository) GetPreferences(ctx context.Context, userID string) (reminder.Preferences, error) {
	var tz string
	var conditions []byte
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, conditions
		FROM user_preferences
		WHERE user_id = $1
	`, userID).Scan(&tz, &conditions)
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Preferences{Timezone: "UTC"}, nil
	}
	if err != nil {
		return reminder.Preferences{}, err
	}

	prefs := reminder.Preferences{Timezone: tz}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &prefs.Conditions); err != nil {
			return reminder.Preferences{}, err
		}
	}
	return prefs, nil
}

func (r *AppointmentRepository) SavePreferences(ctx context.Context, userID string, prefs reminder.Preferences) error {
	conditions, err := json.Marshal(prefs.Conditions)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, timezone, conditions)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET timezone = EXCLUDED.timezone, conditions = EXCLUDED.conditions, updated_at = now()
	`, userID, prefs.Timezone, conditions)
	return err
}

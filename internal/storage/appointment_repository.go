package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/conflict"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/db"
)

// ErrVersionConflict reports a lost optimistic-concurrency race: the row was
// modified between the read and the write. Callers retry the whole
// read-modify-write operation.
var ErrVersionConflict = errors.New("appointment modified concurrently")

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt appointment.Appointment) error {
	candidates, err := marshalTimes(appt.CandidateTimes)
	if err != nil {
		return err
	}
	var recurrence []byte
	if appt.Recurrence != nil {
		recurrence, err = json.Marshal(appt.Recurrence)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, proposer_id, counterparty_id, pro_id, client_id, title, description,
			 scheduled_start, duration_minutes, location, currency, price, max_participants,
			 deposit_required, deposit_amount, status, candidate_times, recurrence, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, appt.ID, appt.ProposerID, appt.CounterpartyID, appt.ProID, appt.ClientID, appt.Title, appt.Description,
		appt.ScheduledStart, appt.DurationMinutes, appt.Location, appt.Currency, appt.Price.String(), appt.MaxParticipants,
		appt.DepositRequired, appt.DepositAmount.String(), string(appt.Status), candidates, recurrence, appt.CreatedAt, appt.Version)
	return err
}

const appointmentColumns = `
	id, proposer_id, counterparty_id, pro_id, client_id, title, description,
	scheduled_start, duration_minutes, location, currency, price::text, max_participants,
	deposit_required, deposit_amount::text, status, candidate_times, recurrence,
	cancelled_at, COALESCE(cancel_reason, ''), created_at, version`

// GetForUpdate loads one appointment and takes its row lock, serializing all
// transitions on the same id for the duration of the transaction.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (appointment.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return appointment.Appointment{}, appointment.ErrNotFound
	}
	return appt, err
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (appointment.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return appointment.Appointment{}, appointment.ErrNotFound
	}
	return appt, err
}

// SaveTransition persists a transition computed in memory, guarded by the
// version read at the start of the operation.
func (r *AppointmentRepository) SaveTransition(ctx context.Context, tx pgx.Tx, appt appointment.Appointment, expectedVersion int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			scheduled_start = $3,
			cancelled_at = $4,
			cancel_reason = $5,
			version = $6,
			updated_at = now()
		WHERE id = $1 AND version = $7
	`, appt.ID, string(appt.Status), appt.ScheduledStart, appt.CancelledAt, appt.CancelReason, appt.Version, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *AppointmentRepository) InsertPayment(ctx context.Context, tx pgx.Tx, rec ledger.PaymentRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_records (id, appointment_id, amount, status, tag, provider_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.AppointmentID, rec.Amount.String(), string(rec.Status), rec.Tag, rec.ProviderSessionID, rec.CreatedAt)
	return err
}

func (r *AppointmentRepository) UpdatePaymentStatus(ctx context.Context, tx pgx.Tx, paymentID string, status ledger.PaymentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_records
		SET status = $2
		WHERE id = $1
	`, paymentID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrNotFound
	}
	return nil
}

// AttachPaymentSession records the provider checkout session opened for a
// pending ledger record.
func (r *AppointmentRepository) AttachPaymentSession(ctx context.Context, tx pgx.Tx, paymentID, sessionID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_records
		SET provider_session_id = $2
		WHERE id = $1
	`, paymentID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrNotFound
	}
	return nil
}

// ListPayments reads the full ledger inside the caller's transaction so a
// serialized transition sees a consistent snapshot.
func (r *AppointmentRepository) ListPayments(ctx context.Context, tx pgx.Tx, appointmentID string) ([]ledger.PaymentRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id, amount::text, status, tag, COALESCE(provider_session_id, ''), created_at
		FROM payment_records
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindPaymentBySession resolves a provider checkout session back to the
// ledger entry it was opened for.
func (r *AppointmentRepository) FindPaymentBySession(ctx context.Context, tx pgx.Tx, sessionID string) (ledger.PaymentRecord, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, appointment_id, amount::text, status, tag, COALESCE(provider_session_id, ''), created_at
		FROM payment_records
		WHERE provider_session_id = $1
	`, sessionID)
	rec, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.PaymentRecord{}, appointment.ErrNotFound
	}
	return rec, err
}

// ListCommittedRanges returns the occupied time ranges of a professional's
// calendar: accepted, confirmed and paid appointments overlapping [from, to).
func (r *AppointmentRepository) ListCommittedRanges(ctx context.Context, proID string, from, to time.Time) ([]conflict.Range, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_start, duration_minutes
		FROM appointments
		WHERE pro_id = $1
			AND status IN ('accepted', 'confirmed', 'paid')
			AND scheduled_start < $3
			AND scheduled_start + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_start
	`, proID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []conflict.Range
	for rows.Next() {
		var start time.Time
		var mins int
		if err := rows.Scan(&start, &mins); err != nil {
			return nil, err
		}
		ranges = append(ranges, conflict.Range{Start: start, End: start.Add(time.Duration(mins) * time.Minute)})
	}
	return ranges, rows.Err()
}

// ListSlots returns the professional's declared availability overlapping
// [from, to).
func (r *AppointmentRepository) ListSlots(ctx context.Context, proID string, from, to time.Time) ([]conflict.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM availability_slots
		WHERE pro_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, proID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []conflict.Slot
	for rows.Next() {
		var s conflict.Slot
		if err := rows.Scan(&s.Start, &s.End); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *AppointmentRepository) InsertSlot(ctx context.Context, proID string, slot conflict.Slot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_slots (pro_id, start_time, end_time)
		VALUES ($1, $2, $3)
	`, proID, slot.Start, slot.End)
	return err
}

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]appointment.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE pro_id = $1 OR client_id = $1
		ORDER BY scheduled_start DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []appointment.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// ListDuePaid claims paid appointments whose scheduled end has passed so the
// completion sweeper can finalize them.
func (r *AppointmentRepository) ListDuePaid(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]appointment.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE status = 'paid'
			AND scheduled_start + make_interval(mins => duration_minutes) <= $1
		ORDER BY scheduled_start
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []appointment.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanAppointment(row pgx.Row) (appointment.Appointment, error) {
	var appt appointment.Appointment
	var price, deposit, status string
	var candidates, recurrence []byte
	var cancelledAt *time.Time

	err := row.Scan(
		&appt.ID, &appt.ProposerID, &appt.CounterpartyID, &appt.ProID, &appt.ClientID,
		&appt.Title, &appt.Description, &appt.ScheduledStart, &appt.DurationMinutes,
		&appt.Location, &appt.Currency, &price, &appt.MaxParticipants,
		&appt.DepositRequired, &deposit, &status, &candidates, &recurrence,
		&cancelledAt, &appt.CancelReason, &appt.CreatedAt, &appt.Version,
	)
	if err != nil {
		return appointment.Appointment{}, err
	}

	if appt.Price, err = decimal.NewFromString(price); err != nil {
		return appointment.Appointment{}, err
	}
	if appt.DepositAmount, err = decimal.NewFromString(deposit); err != nil {
		return appointment.Appointment{}, err
	}
	appt.Status = appointment.Status(status)
	appt.CancelledAt = cancelledAt

	if appt.CandidateTimes, err = unmarshalTimes(candidates); err != nil {
		return appointment.Appointment{}, err
	}
	if len(recurrence) > 0 {
		var pattern appointment.RecurrencePattern
		if err := json.Unmarshal(recurrence, &pattern); err != nil {
			return appointment.Appointment{}, err
		}
		appt.Recurrence = &pattern
	}
	return appt, nil
}

func scanPayment(row pgx.Row) (ledger.PaymentRecord, error) {
	var rec ledger.PaymentRecord
	var amount, status string
	if err := row.Scan(&rec.ID, &rec.AppointmentID, &amount, &status, &rec.Tag, &rec.ProviderSessionID, &rec.CreatedAt); err != nil {
		return ledger.PaymentRecord{}, err
	}
	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.PaymentRecord{}, err
	}
	rec.Status = ledger.PaymentStatus(status)
	return rec, nil
}

func marshalTimes(times []time.Time) ([]byte, error) {
	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, t.UTC().Format(time.RFC3339Nano))
	}
	return json.Marshal(out)
}

func unmarshalTimes(raw []byte) ([]time.Time, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(parts))
	for _, p := range parts {
		t, err := time.Parse(time.RFC3339Nano, p)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

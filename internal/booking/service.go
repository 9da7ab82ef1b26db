package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/conflict"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/outbox"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/recurrence"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/refund"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/reminder"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/storage"
)

// Service orchestrates lifecycle transitions: it loads state under row locks,
// runs the pure transition, and persists the result together with its outbox
// events and reminder rows in one transaction.
type Service struct {
	repo      *storage.AppointmentRepository
	outbox    *outbox.Repository
	reminders *reminder.Repository
	scheduler reminder.Scheduler
	logger    *slog.Logger
	newID     func() string
}

func New(repo *storage.AppointmentRepository, outboxRepo *outbox.Repository, reminderRepo *reminder.Repository, logger *slog.Logger, newID func() string) *Service {
	return &Service{
		repo:      repo,
		outbox:    outboxRepo,
		reminders: reminderRepo,
		scheduler: reminder.Scheduler{NewID: newID},
		logger:    logger,
		newID:     newID,
	}
}

func (s *Service) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.repo.Begin(ctx)
}

// Propose validates the draft and persists the initial proposed appointment.
func (s *Service) Propose(ctx context.Context, tx pgx.Tx, draft appointment.Draft, now time.Time) (appointment.Appointment, error) {
	appt, events, err := appointment.Propose(draft, now, s.newID())
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.repo.Create(ctx, tx, appt); err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, err
	}
	return appt, nil
}

// Accept pins the chosen candidate time and schedules the reminder set.
// Recurring series are expanded separately with ExpandSeries once the accept
// has committed.
func (s *Service) Accept(ctx context.Context, tx pgx.Tx, id, actorID string, chosenIndex int, now time.Time) (appointment.Appointment, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	read := appt.Version

	appt, events, err := appointment.Accept(appt, actorID, chosenIndex, now)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.repo.SaveTransition(ctx, tx, appt, read); err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, err
	}

	if err := s.scheduleBookingReminders(ctx, tx, appt, now); err != nil {
		return appointment.Appointment{}, err
	}
	return appt, nil
}

// ExpandSeries persists the recurring occurrences derived from an accepted
// appointment, one transaction per occurrence. It runs after the accept has
// committed: a failure on occurrence N keeps 1..N-1 and never unwinds the
// acceptance itself. Returns how many occurrences were created.
func (s *Service) ExpandSeries(ctx context.Context, appt appointment.Appointment, actorID string, now time.Time) int {
	if appt.Recurrence == nil {
		return 0
	}
	derived := recurrence.Expand(appt, *appt.Recurrence, s.newID)
	created := 0
	for _, d := range derived {
		if err := s.createDerived(ctx, d, actorID, now); err != nil {
			s.logger.Error("recurrence occurrence not created",
				"appointment_id", appt.ID, "occurrence_start", d.ScheduledStart, "err", err)
			continue
		}
		created++
	}
	return created
}

func (s *Service) createDerived(ctx context.Context, d appointment.Appointment, actorID string, now time.Time) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Create(ctx, tx, d); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, []appointment.Event{{
		Type:        appointment.EventProposed,
		Appointment: d,
		ActorID:     actorID,
		OccurredAt:  now,
	}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reject declines a proposal. Nothing downstream exists yet, so only the
// transition and its event are persisted.
func (s *Service) Reject(ctx context.Context, tx pgx.Tx, id, actorID, reason string, now time.Time) (appointment.Appointment, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	read := appt.Version

	appt, events, err := appointment.Reject(appt, actorID, reason, now)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.repo.SaveTransition(ctx, tx, appt, read); err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, err
	}
	return appt, nil
}

// Cancel finalizes the appointment, computes the refund and withdraws every
// reminder that no longer applies.
func (s *Service) Cancel(ctx context.Context, tx pgx.Tx, id, actorID, reason string, now time.Time) (appointment.Appointment, refund.Outcome, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, refund.Outcome{}, err
	}
	read := appt.Version

	records, err := s.repo.ListPayments(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, refund.Outcome{}, err
	}

	appt, outcome, events, err := appointment.Cancel(appt, records, actorID, reason, now)
	if err != nil {
		return appointment.Appointment{}, refund.Outcome{}, err
	}
	if err := s.repo.SaveTransition(ctx, tx, appt, read); err != nil {
		return appointment.Appointment{}, refund.Outcome{}, err
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, refund.Outcome{}, err
	}

	if err := s.reminders.CancelPendingForAppointment(ctx, tx, id); err != nil {
		return appointment.Appointment{}, refund.Outcome{}, err
	}
	for _, rec := range records {
		if rec.Status == ledger.StatusPending {
			if err := s.reminders.CancelPendingForPayment(ctx, tx, rec.ID); err != nil {
				return appointment.Appointment{}, refund.Outcome{}, err
			}
		}
	}
	return appt, outcome, nil
}

// RecordManualPayment appends a payment the professional collected outside
// the provider flow, e.g. cash on site.
func (s *Service) RecordManualPayment(ctx context.Context, tx pgx.Tx, id, tag string, amount decimal.Decimal, now time.Time) (appointment.Appointment, ledger.PaymentRecord, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	read := appt.Version

	records, err := s.repo.ListPayments(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}

	rec := ledger.PaymentRecord{
		ID:            s.newID(),
		AppointmentID: id,
		Amount:        amount,
		Status:        ledger.StatusCompleted,
		Tag:           tag,
		CreatedAt:     now,
	}
	appt, _, events, err := appointment.RecordPayment(appt, records, rec, now)
	if err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	if err := s.repo.InsertPayment(ctx, tx, rec); err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	if appt.Version != read {
		if err := s.repo.SaveTransition(ctx, tx, appt, read); err != nil {
			return appointment.Appointment{}, ledger.PaymentRecord{}, err
		}
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	return appt, rec, nil
}

// PrepareCharge opens a pending ledger record for the next amount owed:
// the deposit while unconfirmed, the remaining balance afterwards. Payment
// escalation reminders are queued against the new record's due date.
func (s *Service) PrepareCharge(ctx context.Context, tx pgx.Tx, id string, now time.Time) (appointment.Appointment, ledger.PaymentRecord, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	if appt.IsTerminal() {
		return appointment.Appointment{}, ledger.PaymentRecord{}, appointment.ErrAlreadyFinalized
	}
	if appt.Status == appointment.StatusProposed {
		return appointment.Appointment{}, ledger.PaymentRecord{}, appointment.ErrInvalidTransition
	}

	records, err := s.repo.ListPayments(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}

	tag := ledger.TagBalance
	amount := ledger.Outstanding(appt.Price, records)
	if appt.Status == appointment.StatusAccepted && appt.DepositRequired {
		tag = ledger.TagDeposit
		amount = appt.DepositAmount
	}
	if !amount.IsPositive() {
		return appointment.Appointment{}, ledger.PaymentRecord{}, &appointment.ValidationError{Field: "amount", Reason: "nothing is owed"}
	}

	rec := ledger.PaymentRecord{
		ID:            s.newID(),
		AppointmentID: id,
		Amount:        amount,
		Status:        ledger.StatusPending,
		Tag:           tag,
		CreatedAt:     now,
	}
	if err := s.repo.InsertPayment(ctx, tx, rec); err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	if err := s.emit(ctx, tx, []appointment.Event{{
		Type:        appointment.EventPaymentRecorded,
		Appointment: appt,
		Payment:     &rec,
		OccurredAt:  now,
	}}); err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}

	prefs, err := s.repo.GetPreferences(ctx, appt.ClientID)
	if err != nil {
		return appointment.Appointment{}, ledger.PaymentRecord{}, err
	}
	for _, evt := range s.scheduler.ForPayment(rec, appt.ClientID, appt.Currency, prefs, now) {
		if err := s.reminders.Insert(ctx, tx, evt); err != nil {
			return appointment.Appointment{}, ledger.PaymentRecord{}, err
		}
	}
	return appt, rec, nil
}

// AttachSession links the provider checkout session to its ledger record
// once the provider call has succeeded.
func (s *Service) AttachSession(ctx context.Context, tx pgx.Tx, paymentID, sessionID string) error {
	return s.repo.AttachPaymentSession(ctx, tx, paymentID, sessionID)
}

// Settle flips a pending payment to its provider-reported outcome and applies
// whatever transitions the updated ledger implies. Replays are no-ops.
func (s *Service) Settle(ctx context.Context, tx pgx.Tx, appointmentID, paymentID string, outcome ledger.PaymentStatus, now time.Time) (appointment.Appointment, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	read := appt.Version

	records, err := s.repo.ListPayments(ctx, tx, appointmentID)
	if err != nil {
		return appointment.Appointment{}, err
	}

	appt, records, events, err := appointment.SettlePayment(appt, records, paymentID, outcome, now)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.repo.UpdatePaymentStatus(ctx, tx, paymentID, outcome); err != nil {
		return appointment.Appointment{}, err
	}
	if appt.Version != read {
		if err := s.repo.SaveTransition(ctx, tx, appt, read); err != nil {
			return appointment.Appointment{}, err
		}
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, err
	}

	// A settled payment needs no more nagging either way: completed means
	// paid, failed means the next checkout opens a fresh record.
	if err := s.reminders.CancelPendingForPayment(ctx, tx, paymentID); err != nil {
		return appointment.Appointment{}, err
	}
	return appt, nil
}

// Complete finalizes a paid appointment.
func (s *Service) Complete(ctx context.Context, tx pgx.Tx, id string, now time.Time) (appointment.Appointment, error) {
	appt, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	read := appt.Version

	appt, events, err := appointment.Complete(appt, now)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.repo.SaveTransition(ctx, tx, appt, read); err != nil {
		return appointment.Appointment{}, err
	}
	if err := s.emit(ctx, tx, events); err != nil {
		return appointment.Appointment{}, err
	}
	return appt, nil
}

// DetectConflicts checks a candidate time against the professional's calendar
// and declared availability.
func (s *Service) DetectConflicts(ctx context.Context, proID string, start time.Time, durationMinutes int) ([]conflict.Report, error) {
	requested := time.Duration(durationMinutes) * time.Minute
	candidate := conflict.Range{Start: start, End: start.Add(requested)}

	// Widen the committed-range scan to a day either side so overlaps with
	// long appointments are not missed.
	committed, err := s.repo.ListCommittedRanges(ctx, proID, start.Add(-24*time.Hour), candidate.End.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	slots, err := s.repo.ListSlots(ctx, proID, start.Add(-24*time.Hour), candidate.End.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	return conflict.Detect(candidate, requested, committed, slots), nil
}

func (s *Service) scheduleBookingReminders(ctx context.Context, tx pgx.Tx, appt appointment.Appointment, now time.Time) error {
	client, err := s.repo.GetPreferences(ctx, appt.ClientID)
	if err != nil {
		return err
	}
	pro, err := s.repo.GetPreferences(ctx, appt.ProID)
	if err != nil {
		return err
	}
	for _, evt := range s.scheduler.ForBooking(appt, client, pro, now) {
		if err := s.reminders.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, events []appointment.Event) error {
	for _, evt := range events {
		payload, err := json.Marshal(eventPayload(evt))
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   evt.Appointment.ID,
			EventType:     string(evt.Type),
			Payload:       payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func eventPayload(evt appointment.Event) map[string]any {
	appt := evt.Appointment
	payload := map[string]any{
		"appointment_id":  appt.ID,
		"pro_id":          appt.ProID,
		"client_id":       appt.ClientID,
		"status":          string(appt.Status),
		"scheduled_start": appt.ScheduledStart.UTC().Format(time.RFC3339),
		"currency":        appt.Currency,
		"price":           appt.Price.String(),
		"version":         appt.Version,
		"occurred_at":     evt.OccurredAt.UTC().Format(time.RFC3339),
	}
	if evt.ActorID != "" {
		payload["actor_id"] = evt.ActorID
	}
	if evt.Reason != "" {
		payload["reason"] = evt.Reason
	}
	if evt.Payment != nil {
		payload["payment"] = map[string]any{
			"payment_id": evt.Payment.ID,
			"amount":     evt.Payment.Amount.String(),
			"status":     string(evt.Payment.Status),
			"tag":        evt.Payment.Tag,
		}
	}
	if evt.Refund != nil {
		payload["refund"] = map[string]any{
			"amount": evt.Refund.Amount.String(),
			"tier":   string(evt.Refund.Tier),
		}
	}
	return payload
}

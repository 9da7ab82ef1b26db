package appointment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/refund"
)

// MinLeadTime guards against stale proposals: a start time must be strictly
// after now+MinLeadTime both at creation and at acceptance.
const MinLeadTime = time.Minute

// NoChosenIndex marks a respond call that did not supply a candidate index.
const NoChosenIndex = -1

var defaultDepositRatio = decimal.NewFromFloat(0.3)

// Propose validates a draft and returns the initial proposed appointment.
func Propose(d Draft, now time.Time, id string) (Appointment, []Event, error) {
	if !d.Price.IsPositive() {
		return Appointment{}, nil, &ValidationError{Field: "price", Reason: "must be greater than zero"}
	}
	if d.DurationMinutes <= 0 {
		return Appointment{}, nil, &ValidationError{Field: "duration_minutes", Reason: "must be greater than zero"}
	}
	if len(d.CandidateTimes) == 0 {
		return Appointment{}, nil, &ValidationError{Field: "candidate_times", Reason: "at least one candidate time is required"}
	}
	earliest := now.Add(MinLeadTime)
	for _, t := range d.CandidateTimes {
		if !t.After(earliest) {
			return Appointment{}, nil, &ValidationError{Field: "candidate_times", Reason: "all candidate times must be more than one minute in the future"}
		}
	}

	deposit := d.DepositAmount
	if d.DepositRequired && deposit.IsZero() {
		deposit = d.Price.Mul(defaultDepositRatio)
	}
	if deposit.IsNegative() {
		return Appointment{}, nil, &ValidationError{Field: "deposit_amount", Reason: "must not be negative"}
	}
	if deposit.GreaterThan(d.Price) {
		return Appointment{}, nil, &ValidationError{Field: "deposit_amount", Reason: "must not exceed the price"}
	}

	if d.Recurrence != nil {
		switch d.Recurrence.Frequency {
		case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		default:
			return Appointment{}, nil, &ValidationError{Field: "recurrence.frequency", Reason: "must be daily, weekly or monthly"}
		}
		if d.Recurrence.Interval < 1 {
			return Appointment{}, nil, &ValidationError{Field: "recurrence.interval", Reason: "must be at least 1"}
		}
	}

	appt := Appointment{
		ID:              id,
		ProposerID:      d.ProposerID,
		CounterpartyID:  d.CounterpartyID,
		ProID:           d.ProID,
		ClientID:        d.ClientID,
		Title:           d.Title,
		Description:     d.Description,
		ScheduledStart:  d.CandidateTimes[0],
		DurationMinutes: d.DurationMinutes,
		Location:        d.Location,
		Currency:        d.Currency,
		Price:           d.Price,
		MaxParticipants: d.MaxParticipants,
		DepositRequired: d.DepositRequired,
		DepositAmount:   deposit,
		Status:          StatusProposed,
		CandidateTimes:  append([]time.Time(nil), d.CandidateTimes...),
		Recurrence:      d.Recurrence,
		CreatedAt:       now,
		Version:         1,
	}

	return appt, []Event{{Type: EventProposed, Appointment: appt, ActorID: d.ProposerID, OccurredAt: now}}, nil
}

// Accept moves a proposed appointment to accepted, pinning the chosen
// candidate time. With a single candidate the index may be omitted
// (NoChosenIndex); with several it is mandatory.
func Accept(a Appointment, actorID string, chosenIndex int, now time.Time) (Appointment, []Event, error) {
	if a.IsTerminal() {
		return a, nil, ErrAlreadyFinalized
	}
	if a.Status != StatusProposed {
		return a, nil, ErrInvalidTransition
	}

	idx := chosenIndex
	if idx == NoChosenIndex {
		if len(a.CandidateTimes) > 1 {
			return a, nil, &ValidationError{Field: "chosen_index", Reason: "required when several candidate times were proposed"}
		}
		idx = 0
	}
	if idx < 0 || idx >= len(a.CandidateTimes) {
		return a, nil, ErrInvalidCandidateIndex
	}

	chosen := a.CandidateTimes[idx]
	if !chosen.After(now.Add(MinLeadTime)) {
		return a, nil, &ValidationError{Field: "chosen_index", Reason: "chosen time is no longer in the future"}
	}

	a.ScheduledStart = chosen
	a.Status = StatusAccepted
	a.Version++
	events := []Event{{Type: EventAccepted, Appointment: a, ActorID: actorID, OccurredAt: now}}

	// No deposit means nothing gates confirmation.
	if !a.DepositRequired {
		a.Status = StatusConfirmed
		a.Version++
		events = append(events, Event{Type: EventConfirmed, Appointment: a, OccurredAt: now})
	}

	return a, events, nil
}

// Reject cancels a proposed appointment. Nothing has been paid at this point,
// so no refund is involved.
func Reject(a Appointment, actorID, reason string, now time.Time) (Appointment, []Event, error) {
	if a.IsTerminal() {
		return a, nil, ErrAlreadyFinalized
	}
	if a.Status != StatusProposed {
		return a, nil, ErrInvalidTransition
	}

	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancelReason = reason
	a.Version++

	return a, []Event{{Type: EventRejected, Appointment: a, ActorID: actorID, Reason: reason, OccurredAt: now}}, nil
}

// RecordPayment appends one ledger entry and recomputes the status from the
// full ledger. A completed amount that would push the paid total past the
// price is rejected before anything is appended.
func RecordPayment(a Appointment, records []ledger.PaymentRecord, rec ledger.PaymentRecord, now time.Time) (Appointment, []ledger.PaymentRecord, []Event, error) {
	if a.IsTerminal() {
		return a, records, nil, ErrAlreadyFinalized
	}
	if a.Status == StatusProposed {
		return a, records, nil, ErrInvalidTransition
	}
	if !rec.Amount.IsPositive() {
		return a, records, nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	if rec.Status == ledger.StatusCompleted {
		if ledger.PaidAmount(records).Add(rec.Amount).GreaterThan(a.Price) {
			return a, records, nil, ErrOverpaymentRejected
		}
	}

	records = append(records, rec)
	events := []Event{{Type: EventPaymentRecorded, Appointment: a, Payment: &rec, OccurredAt: now}}

	a, auto := Reconcile(a, records, now)
	return a, records, append(events, auto...), nil
}

// SettlePayment flips a pending ledger entry to completed or failed and
// recomputes the status. It is driven by asynchronous provider callbacks.
func SettlePayment(a Appointment, records []ledger.PaymentRecord, paymentID string, outcome ledger.PaymentStatus, now time.Time) (Appointment, []ledger.PaymentRecord, []Event, error) {
	if a.IsTerminal() {
		return a, records, nil, ErrAlreadyFinalized
	}
	if outcome != ledger.StatusCompleted && outcome != ledger.StatusFailed {
		return a, records, nil, &ValidationError{Field: "status", Reason: "settlement must be completed or failed"}
	}

	idx := -1
	for i, rec := range records {
		if rec.ID == paymentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return a, records, nil, ErrNotFound
	}
	if records[idx].Status != ledger.StatusPending {
		// Replayed callback: the ledger is already settled, recomputing the
		// status from it is a no-op and safe.
		a, auto := Reconcile(a, records, now)
		return a, records, auto, nil
	}

	if outcome == ledger.StatusCompleted {
		rest := records[:idx:idx]
		rest = append(rest, records[idx+1:]...)
		if ledger.PaidAmount(rest).Add(records[idx].Amount).GreaterThan(a.Price) {
			return a, records, nil, ErrOverpaymentRejected
		}
	}

	records[idx].Status = outcome
	events := []Event{{Type: EventPaymentRecorded, Appointment: a, Payment: &records[idx], OccurredAt: now}}

	a, auto := Reconcile(a, records, now)
	return a, records, append(events, auto...), nil
}

// Reconcile derives the automatic transitions from the ledger. It is a pure
// function of the full ledger, so re-running it after a replayed payment
// yields the same status.
func Reconcile(a Appointment, records []ledger.PaymentRecord, now time.Time) (Appointment, []Event) {
	var events []Event

	if a.Status == StatusAccepted {
		cleared := !a.DepositRequired || ledger.HasDepositCleared(a.DepositAmount, records)
		if cleared {
			a.Status = StatusConfirmed
			a.Version++
			events = append(events, Event{Type: EventConfirmed, Appointment: a, OccurredAt: now})
		}
	}

	if a.Status == StatusConfirmed && ledger.Outstanding(a.Price, records).IsZero() {
		a.Status = StatusPaid
		a.Version++
		events = append(events, Event{Type: EventPaid, Appointment: a, OccurredAt: now})
	}

	return a, events
}

// Cancel finalizes the appointment as cancelled. Cancellation is always
// permitted outside terminal states; the refund amount is the only variable,
// and it is shown to the cancelling user, not treated as an error.
func Cancel(a Appointment, records []ledger.PaymentRecord, actorID, reason string, now time.Time) (Appointment, refund.Outcome, []Event, error) {
	if a.IsTerminal() {
		return a, refund.Outcome{}, nil, ErrAlreadyFinalized
	}

	outcome := refund.Compute(now, a.ScheduledStart, ledger.PaidAmount(records))

	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancelReason = reason
	a.Version++

	evt := Event{
		Type:        EventCancelled,
		Appointment: a,
		Refund:      &outcome,
		ActorID:     actorID,
		Reason:      reason,
		OccurredAt:  now,
	}
	return a, outcome, []Event{evt}, nil
}

// Complete finalizes a fully paid appointment, either on an explicit signal
// or when the sweeper notices the scheduled end has passed.
func Complete(a Appointment, now time.Time) (Appointment, []Event, error) {
	if a.IsTerminal() {
		return a, nil, ErrAlreadyFinalized
	}
	if a.Status != StatusPaid {
		return a, nil, ErrInvalidTransition
	}

	a.Status = StatusCompleted
	a.Version++
	return a, []Event{{Type: EventCompleted, Appointment: a, OccurredAt: now}}, nil
}

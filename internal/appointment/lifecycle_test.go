package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/refund"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func draft(starts ...time.Time) Draft {
	return Draft{
		ProposerID:      "client-1",
		CounterpartyID:  "pro-1",
		ProID:           "pro-1",
		ClientID:        "client-1",
		Title:           "Sleeve session",
		DurationMinutes: 90,
		Currency:        "EUR",
		Price:           dec("200"),
		DepositRequired: true,
		DepositAmount:   dec("60"),
		CandidateTimes:  starts,
	}
}

func completed(amount string) ledger.PaymentRecord {
	return ledger.PaymentRecord{ID: "pay-" + amount, Amount: dec(amount), Status: ledger.StatusCompleted, CreatedAt: testNow}
}

func TestPropose_RejectsStaleCandidate(t *testing.T) {
	_, _, err := Propose(draft(testNow.Add(30*time.Second)), testNow, "appt-1")
	if !IsValidation(err) {
		t.Fatalf("expected validation error for a candidate 30s out, got %v", err)
	}
}

func TestPropose_RejectsDepositAbovePrice(t *testing.T) {
	d := draft(testNow.Add(48 * time.Hour))
	d.DepositAmount = dec("250")
	_, _, err := Propose(d, testNow, "appt-1")
	if !IsValidation(err) {
		t.Fatalf("expected validation error for deposit > price, got %v", err)
	}
}

func TestPropose_DefaultsDepositToThirtyPercent(t *testing.T) {
	d := draft(testNow.Add(48 * time.Hour))
	d.DepositAmount = decimal.Zero
	appt, events, err := Propose(d, testNow, "appt-1")
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	if !appt.DepositAmount.Equal(dec("60")) {
		t.Fatalf("expected default deposit 60 (30%% of 200), got %s", appt.DepositAmount)
	}
	if len(events) != 1 || events[0].Type != EventProposed {
		t.Fatalf("expected a single proposed event, got %+v", events)
	}
}

func TestAccept_MultipleCandidatesNeedsIndex(t *testing.T) {
	d := draft(testNow.Add(48*time.Hour), testNow.Add(72*time.Hour))
	appt, _, err := Propose(d, testNow, "appt-1")
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}

	if _, _, err := Accept(appt, "pro-1", NoChosenIndex, testNow); !IsValidation(err) {
		t.Fatalf("expected validation error without index, got %v", err)
	}
	if _, _, err := Accept(appt, "pro-1", 5, testNow); !errors.Is(err, ErrInvalidCandidateIndex) {
		t.Fatalf("expected ErrInvalidCandidateIndex, got %v", err)
	}

	got, events, err := Accept(appt, "pro-1", 1, testNow)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !got.ScheduledStart.Equal(testNow.Add(72 * time.Hour)) {
		t.Fatalf("expected second candidate pinned, got %s", got.ScheduledStart)
	}
	if got.Status != StatusAccepted {
		t.Fatalf("expected accepted (deposit gates confirmation), got %s", got.Status)
	}
	if len(events) != 1 || events[0].Type != EventAccepted {
		t.Fatalf("expected accepted event, got %+v", events)
	}
}

func TestAccept_NoDepositAutoConfirms(t *testing.T) {
	d := draft(testNow.Add(48 * time.Hour))
	d.DepositRequired = false
	d.DepositAmount = decimal.Zero
	appt, _, err := Propose(d, testNow, "appt-1")
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}

	got, events, err := Accept(appt, "pro-1", NoChosenIndex, testNow)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Fatalf("expected auto-confirm without deposit, got %s", got.Status)
	}
	if len(events) != 2 || events[1].Type != EventConfirmed {
		t.Fatalf("expected accepted+confirmed events, got %+v", events)
	}
}

func TestRecordPayment_DepositThenBalance(t *testing.T) {
	appt, _, err := Propose(draft(testNow.Add(100*time.Hour)), testNow, "appt-1")
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	appt, _, err = Accept(appt, "pro-1", NoChosenIndex, testNow)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	var records []ledger.PaymentRecord
	appt, records, events, err := RecordPayment(appt, records, completed("60"), testNow)
	if err != nil {
		t.Fatalf("deposit payment failed: %v", err)
	}
	if appt.Status != StatusConfirmed {
		t.Fatalf("expected accepted->confirmed once deposit cleared, got %s", appt.Status)
	}
	if events[len(events)-1].Type != EventConfirmed {
		t.Fatalf("expected confirmed event, got %+v", events)
	}

	appt, records, events, err = RecordPayment(appt, records, completed("140"), testNow)
	if err != nil {
		t.Fatalf("balance payment failed: %v", err)
	}
	if appt.Status != StatusPaid {
		t.Fatalf("expected confirmed->paid once fully paid, got %s", appt.Status)
	}
	if events[len(events)-1].Type != EventPaid {
		t.Fatalf("expected paid event, got %+v", events)
	}
	if !ledger.PaidAmount(records).Equal(dec("200")) {
		t.Fatalf("expected ledger total 200, got %s", ledger.PaidAmount(records))
	}
}

func TestRecordPayment_OverpaymentRejected(t *testing.T) {
	appt, _, _ := Propose(draft(testNow.Add(100*time.Hour)), testNow, "appt-1")
	appt, _, _ = Accept(appt, "pro-1", NoChosenIndex, testNow)

	records := []ledger.PaymentRecord{completed("200")}
	_, _, _, err := RecordPayment(appt, records, completed("1"), testNow)
	if !errors.Is(err, ErrOverpaymentRejected) {
		t.Fatalf("expected ErrOverpaymentRejected, got %v", err)
	}
	if len(records) != 1 {
		t.Fatal("rejected payment must not be appended")
	}
}

func TestReconcile_IsPureFunctionOfLedger(t *testing.T) {
	appt, _, _ := Propose(draft(testNow.Add(100*time.Hour)), testNow, "appt-1")
	appt, _, _ = Accept(appt, "pro-1", NoChosenIndex, testNow)

	records := []ledger.PaymentRecord{completed("60")}
	first, _ := Reconcile(appt, records, testNow)
	second, events := Reconcile(first, records, testNow)
	if first.Status != StatusConfirmed || second.Status != StatusConfirmed {
		t.Fatalf("expected confirmed both times, got %s then %s", first.Status, second.Status)
	}
	if len(events) != 0 {
		t.Fatalf("replayed reconciliation must not emit new transitions, got %+v", events)
	}
}

func TestSettlePayment_PendingToCompleted(t *testing.T) {
	appt, _, _ := Propose(draft(testNow.Add(100*time.Hour)), testNow, "appt-1")
	appt, _, _ = Accept(appt, "pro-1", NoChosenIndex, testNow)

	records := []ledger.PaymentRecord{{ID: "pay-1", Amount: dec("60"), Status: ledger.StatusPending}}
	appt, records, _, err := SettlePayment(appt, records, "pay-1", ledger.StatusCompleted, testNow)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if records[0].Status != ledger.StatusCompleted {
		t.Fatalf("expected record completed, got %s", records[0].Status)
	}
	if appt.Status != StatusConfirmed {
		t.Fatalf("expected confirmation after deposit settled, got %s", appt.Status)
	}

	// Replayed callback is a no-op.
	again, _, events, err := SettlePayment(appt, records, "pay-1", ledger.StatusCompleted, testNow)
	if err != nil {
		t.Fatalf("replayed settle failed: %v", err)
	}
	if again.Status != StatusConfirmed || len(events) != 0 {
		t.Fatalf("replay must not change anything, got %s with %+v", again.Status, events)
	}
}

func TestCancel_PartialRefundWindow(t *testing.T) {
	appt, _, _ := Propose(draft(testNow.Add(30*time.Hour)), testNow, "appt-1")
	appt, _, _ = Accept(appt, "pro-1", NoChosenIndex, testNow)
	records := []ledger.PaymentRecord{completed("100")}

	got, outcome, events, err := Cancel(appt, records, "client-1", "changed my mind", testNow)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != StatusCancelled || got.CancelledAt == nil {
		t.Fatalf("expected cancelled, got %+v", got)
	}
	if outcome.Tier != refund.TierPartial || !outcome.Amount.Equal(dec("50")) {
		t.Fatalf("expected 50 partial refund at 30h out, got %s %s", outcome.Amount, outcome.Tier)
	}
	if len(events) != 1 || events[0].Type != EventCancelled || events[0].Refund == nil {
		t.Fatalf("expected cancelled event carrying the refund, got %+v", events)
	}
}

func TestTerminalStatesAcceptNoTransitions(t *testing.T) {
	appt, _, _ := Propose(draft(testNow.Add(100*time.Hour)), testNow, "appt-1")
	appt, _, _ = Accept(appt, "pro-1", NoChosenIndex, testNow)
	appt, _, _, _ = Cancel(appt, nil, "pro-1", "", testNow)

	if _, _, err := Accept(appt, "pro-1", 0, testNow); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("accept from cancelled: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, _, _, err := RecordPayment(appt, nil, completed("10"), testNow); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("payment into cancelled: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, _, _, err := Cancel(appt, nil, "pro-1", "", testNow); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("double cancel: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, _, err := Complete(appt, testNow); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("complete from cancelled: expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestComplete_OnlyFromPaid(t *testing.T) {
	appt, _, _ := Propose(draft(testNow.Add(100*time.Hour)), testNow, "appt-1")
	appt, _, _ = Accept(appt, "pro-1", NoChosenIndex, testNow)

	if _, _, err := Complete(appt, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from accepted, got %v", err)
	}

	records := []ledger.PaymentRecord{completed("200")}
	appt, _ = Reconcile(appt, records, testNow)
	if appt.Status != StatusPaid {
		t.Fatalf("expected paid, got %s", appt.Status)
	}

	got, events, err := Complete(appt, testNow)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if got.Status != StatusCompleted || len(events) != 1 || events[0].Type != EventCompleted {
		t.Fatalf("expected completed with event, got %s %+v", got.Status, events)
	}
}

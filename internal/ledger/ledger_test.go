package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPaidAmount_OnlyCompleted(t *testing.T) {
	records := []PaymentRecord{
		{Amount: dec("60"), Status: StatusCompleted},
		{Amount: dec("40"), Status: StatusPending},
		{Amount: dec("25"), Status: StatusFailed},
		{Amount: dec("15"), Status: StatusCompleted},
	}
	if got := PaidAmount(records); !got.Equal(dec("75")) {
		t.Fatalf("expected paid 75, got %s", got)
	}
}

func TestOutstanding_FlooredAtZero(t *testing.T) {
	records := []PaymentRecord{
		{Amount: dec("120"), Status: StatusCompleted},
	}
	if got := Outstanding(dec("200"), records); !got.Equal(dec("80")) {
		t.Fatalf("expected outstanding 80, got %s", got)
	}
	if got := Outstanding(dec("100"), records); !got.IsZero() {
		t.Fatalf("expected outstanding 0, got %s", got)
	}
}

func TestHasDepositCleared_OrderIndependent(t *testing.T) {
	deposit := dec("60")

	if HasDepositCleared(deposit, []PaymentRecord{{Amount: dec("30"), Status: StatusCompleted}}) {
		t.Fatal("30 should not clear a 60 deposit")
	}
	// Two partials summing past the deposit.
	if !HasDepositCleared(deposit, []PaymentRecord{
		{Amount: dec("30"), Status: StatusCompleted},
		{Amount: dec("30"), Status: StatusCompleted},
	}) {
		t.Fatal("30+30 should clear a 60 deposit")
	}
	// A single larger payment also satisfies it.
	if !HasDepositCleared(deposit, []PaymentRecord{{Amount: dec("200"), Status: StatusCompleted}}) {
		t.Fatal("a single 200 payment should clear a 60 deposit")
	}
}

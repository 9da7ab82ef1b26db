package refund

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCompute_Tiers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	paid := decimal.NewFromInt(100)

	cases := []struct {
		name   string
		until  time.Duration
		tier   Tier
		amount string
	}{
		{"well ahead", 72 * time.Hour, TierFull, "100"},
		{"exactly 48h", 48 * time.Hour, TierFull, "100"},
		{"just under 48h", 48*time.Hour - time.Second, TierPartial, "50"},
		{"exactly 24h", 24 * time.Hour, TierPartial, "50"},
		{"just under 24h", 24*time.Hour - time.Second, TierNone, "0"},
		{"an hour before", time.Hour, TierNone, "0"},
		{"already started", -2 * time.Hour, TierNone, "0"},
	}

	for _, tc := range cases {
		out := Compute(now, now.Add(tc.until), paid)
		if out.Tier != tc.tier {
			t.Fatalf("%s: expected tier %s, got %s", tc.name, tc.tier, out.Tier)
		}
		want, _ := decimal.NewFromString(tc.amount)
		if !out.Amount.Equal(want) {
			t.Fatalf("%s: expected refund %s, got %s", tc.name, want, out.Amount)
		}
	}
}

func TestCompute_MonotoneInTimeRemaining(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	paid := decimal.NewFromInt(80)

	prev := decimal.NewFromInt(1 << 30)
	for h := 96; h >= -24; h-- {
		out := Compute(now, now.Add(time.Duration(h)*time.Hour), paid)
		if out.Amount.GreaterThan(prev) {
			t.Fatalf("refund increased as the appointment got closer (at %dh: %s > %s)", h, out.Amount, prev)
		}
		prev = out.Amount
	}
}

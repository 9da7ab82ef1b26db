package payments

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		amount string
		want   int64
	}{
		{"120.00", 12000},
		{"36.00", 3600},
		{"0.01", 1},
		{"99.999", 10000}, // rounds half away from zero
		{"10.005", 1001},
	}
	for _, tc := range cases {
		amt, err := decimal.NewFromString(tc.amount)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.amount, err)
		}
		if got := MinorUnits(amt); got != tc.want {
			t.Errorf("MinorUnits(%s) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

func TestConfigured(t *testing.T) {
	p := NewCheckoutProvider(Config{})
	if p.Configured() {
		t.Fatal("empty config must not report configured")
	}
	p = NewCheckoutProvider(Config{SecretKey: "sk_test_x", SuccessURL: "https://x/ok", CancelURL: "https://x/no"})
	if !p.Configured() {
		t.Fatal("full config must report configured")
	}
}

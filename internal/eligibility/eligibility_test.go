package eligibility

import (
	"testing"
	"time"
)

var testPolicy = Policy{Multiplier: 3, TrailingWindow: 30 * 24 * time.Hour}

func TestConstantBalanceMultiplier(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Balance has been 1000 for longer than the whole window.
	in := Input{
		History: []BalancePoint{
			{Balance: 1_000, At: asOf.Add(-90 * 24 * time.Hour)},
		},
		CurrentBalance: 1_000,
		AsOf:           asOf,
	}

	if got := Evaluate(in, testPolicy); got != 3_000 {
		t.Fatalf("expected max principal 3000, got %d", got)
	}
}

func TestOutstandingPrincipalReducesLimit(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		History:              []BalancePoint{{Balance: 1_000, At: asOf.Add(-60 * 24 * time.Hour)}},
		CurrentBalance:       1_000,
		AsOf:                 asOf,
		OutstandingPrincipal: 2_500,
	}

	if got := Evaluate(in, testPolicy); got != 500 {
		t.Fatalf("expected max principal 500, got %d", got)
	}
}

func TestFlooredAtZero(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		History:              []BalancePoint{{Balance: 100, At: asOf.Add(-60 * 24 * time.Hour)}},
		CurrentBalance:       100,
		AsOf:                 asOf,
		OutstandingPrincipal: 10_000,
	}

	if got := Evaluate(in, testPolicy); got != 0 {
		t.Fatalf("expected max principal 0, got %d", got)
	}
}

func TestTimeWeightedAverage(t *testing.T) {
	asOf := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	windowStart := asOf.Add(-testPolicy.TrailingWindow)

	// Zero for the first half of the window, 2000 for the second half:
	// average 1000, limit 3000.
	in := Input{
		History: []BalancePoint{
			{Balance: 0, At: windowStart.Add(-24 * time.Hour)},
			{Balance: 2_000, At: windowStart.Add(15 * 24 * time.Hour)},
		},
		CurrentBalance: 2_000,
		AsOf:           asOf,
	}

	if got := Evaluate(in, testPolicy); got != 3_000 {
		t.Fatalf("expected max principal 3000, got %d", got)
	}
}

func TestEmptyHistoryUsesCurrentBalance(t *testing.T) {
	in := Input{
		CurrentBalance: 500,
		AsOf:           time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	if got := Evaluate(in, testPolicy); got != 1_500 {
		t.Fatalf("expected max principal 1500, got %d", got)
	}
}

func TestDeterminism(t *testing.T) {
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		History: []BalancePoint{
			{Balance: 700, At: asOf.Add(-20 * 24 * time.Hour)},
			{Balance: 1_400, At: asOf.Add(-10 * 24 * time.Hour)},
		},
		CurrentBalance: 1_400,
		AsOf:           asOf,
	}

	first := Evaluate(in, testPolicy)
	for i := 0; i < 100; i++ {
		if got := Evaluate(in, testPolicy); got != first {
			t.Fatalf("evaluation not deterministic: %d then %d", first, got)
		}
	}
}

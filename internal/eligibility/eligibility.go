// Package eligibility computes the maximum approvable loan principal from
// ledger history. Evaluate is a pure function: it consults nothing but its
// inputs, so the same history always yields the same figure. The figure shown
// at application time is advisory only; approval recomputes it from fresh
// history before authorizing anything.
package eligibility

import "time"

// BalancePoint is a balance snapshot taken from the ledger's transaction log:
// the account balance immediately after a transaction.
type BalancePoint struct {
	Balance int64
	At      time.Time
}

// Input carries everything Evaluate needs.
type Input struct {
	// History holds balance snapshots ordered oldest first. Points outside
	// the policy window are ignored except to establish the opening balance.
	History []BalancePoint
	// CurrentBalance is the account balance as of AsOf.
	CurrentBalance int64
	// AsOf is the end of the evaluation window.
	AsOf time.Time
	// OutstandingPrincipal is the remaining principal across the borrower's
	// active loans.
	OutstandingPrincipal int64
}

// Policy is the configured lending policy.
type Policy struct {
	// Multiplier scales the trailing average balance.
	Multiplier int64
	// TrailingWindow is how far back the average looks.
	TrailingWindow time.Duration
}

// Evaluate returns the maximum approvable principal: the time-weighted average
// balance over the trailing window, times the policy multiplier, minus
// outstanding principal on active loans, floored at zero.
func Evaluate(in Input, p Policy) int64 {
	if p.Multiplier <= 0 || p.TrailingWindow <= 0 {
		return 0
	}

	avg := trailingAverage(in, p.TrailingWindow)
	max := avg*p.Multiplier - in.OutstandingPrincipal
	if max < 0 {
		return 0
	}
	return max
}

// trailingAverage computes the time-weighted average balance over
// [AsOf-window, AsOf]. Each snapshot's balance holds from its timestamp until
// the next snapshot; the balance before the first in-window snapshot is the
// last snapshot at or before the window start, and the last snapshot's balance
// holds through AsOf.
func trailingAverage(in Input, window time.Duration) int64 {
	start := in.AsOf.Add(-window)

	opening := openingBalance(in, start)

	type segment struct {
		balance int64
		from    time.Time
	}
	segments := []segment{{balance: opening, from: start}}
	for _, point := range in.History {
		if point.At.Before(start) || point.At.After(in.AsOf) {
			continue
		}
		segments = append(segments, segment{balance: point.Balance, from: point.At})
	}

	var weighted int64
	for i, seg := range segments {
		end := in.AsOf
		if i+1 < len(segments) {
			end = segments[i+1].from
		}
		duration := end.Sub(seg.from)
		if duration <= 0 {
			continue
		}
		weighted += seg.balance * int64(duration/time.Second)
	}

	totalSeconds := int64(window / time.Second)
	if totalSeconds == 0 {
		return in.CurrentBalance
	}
	return weighted / totalSeconds
}

func openingBalance(in Input, start time.Time) int64 {
	opening := int64(0)
	found := false
	for _, point := range in.History {
		if point.At.After(start) {
			break
		}
		opening = point.Balance
		found = true
	}
	if !found && len(in.History) == 0 {
		// No history at all: the account held its current balance throughout.
		return in.CurrentBalance
	}
	return opening
}

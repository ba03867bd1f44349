package margin

import (
	"margin_monitor/internal/core"

	"github.com/shopspring/decimal"
)

// SolveStatus tags the outcome of a critical-rate query.
type SolveStatus int

const (
	// StatusSolved means Rate holds the exact rate at which the margin
	// level equals the target.
	StatusSolved SolveStatus = iota
	// StatusMixedBook means the book holds both long and short
	// positions; the net P&L slope is not a single affine function of
	// the rate, so no closed-form inversion is attempted.
	StatusMixedBook
	// StatusDegenerate means the derived denominator is numerically
	// zero: required margin's rate sensitivity exactly cancels the P&L
	// sensitivity scaled by the target, so the margin-level curve is
	// flat and has no unique crossing.
	StatusDegenerate
	// StatusEmptyBook means there is nothing to invert.
	StatusEmptyBook
)

func (s SolveStatus) String() string {
	switch s {
	case StatusSolved:
		return "solved"
	case StatusMixedBook:
		return "mixed_book"
	case StatusDegenerate:
		return "degenerate"
	case StatusEmptyBook:
		return "empty_book"
	default:
		return "unknown"
	}
}

// MarshalText makes statuses serialize by name.
func (s SolveStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SolveResult is the tagged outcome of SolveCriticalRate. Rate is only
// meaningful when Solved() is true.
type SolveResult struct {
	Status SolveStatus     `json:"status"`
	Rate   decimal.Decimal `json:"rate"`
}

// Solved reports whether the query produced a rate.
func (r SolveResult) Solved() bool {
	return r.Status == StatusSolved
}

// degenerateEpsilon bounds the denominator magnitude below which the
// linear equation has no unique solution.
var degenerateEpsilon = decimal.New(1, -10)

// SolveCriticalRate analytically inverts the margin-level function of
// a uniform-side book: the exact rate at which M(rate) equals the
// target threshold, without searching or simulating.
//
// With U = total units, E = entry notional (sum of entry*units),
// B = balance, L = leverage, T = target percent, setting
// equity = requiredMargin * T/100 and solving the affine equation:
//
//	all-long:  B + U*rate - E = (U*rate/L)*(T/100)
//	           rate = (E - B) / (U * (1 - T/(100*L)))
//	all-short: B + E - U*rate = (U*rate/L)*(T/100)
//	           rate = (B + E) / (U * (1 + T/(100*L)))
//
// The solved rate is returned unclamped; whether it is economically
// meaningful (e.g. positive) is the caller's call.
func SolveCriticalRate(book *core.Book, targetMarginLevel decimal.Decimal) SolveResult {
	side, uniform, ok := book.UniformSide()
	if !ok {
		return SolveResult{Status: StatusEmptyBook}
	}
	if !uniform {
		return SolveResult{Status: StatusMixedBook}
	}

	var totalUnits, entryNotional decimal.Decimal
	for _, p := range book.Positions {
		units := p.Units()
		totalUnits = totalUnits.Add(units)
		entryNotional = entryNotional.Add(p.EntryPrice.Mul(units))
	}

	balance := book.Account.Balance
	targetScaled := targetMarginLevel.Div(hundred.Mul(book.Account.Leverage))

	var numer, denom decimal.Decimal
	if side == core.SideLong {
		numer = entryNotional.Sub(balance)
		denom = totalUnits.Mul(decimal.NewFromInt(1).Sub(targetScaled))
	} else {
		numer = balance.Add(entryNotional)
		denom = totalUnits.Mul(decimal.NewFromInt(1).Add(targetScaled))
	}

	if denom.Abs().LessThan(degenerateEpsilon) {
		return SolveResult{Status: StatusDegenerate}
	}

	return SolveResult{Status: StatusSolved, Rate: numer.Div(denom)}
}

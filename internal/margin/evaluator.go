package margin

import (
	"margin_monitor/internal/core"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate computes the margin snapshot of a book at one rate.
//
// Required margin is the leverage-deflated notional value of the whole
// book at the given rate. Margin level is equity over required margin
// in percent, defined as zero (not infinite) when the book carries no
// exposure so that downstream comparisons stay total-ordered. The
// function is pure and total for any finite positive rate.
func Evaluate(book *core.Book, rate decimal.Decimal) core.MarginSnapshot {
	exp := Aggregate(book.Positions, rate)

	required := decimal.Zero
	if exp.TotalUnits.IsPositive() {
		required = exp.TotalUnits.Mul(rate).Div(book.Account.Leverage)
	}

	equity := book.Account.Balance.Add(exp.TotalPnL)

	level := decimal.Zero
	if required.IsPositive() {
		level = equity.Div(required).Mul(hundred)
	}

	return core.MarginSnapshot{
		Rate:           rate,
		TotalPnL:       exp.TotalPnL,
		Equity:         equity,
		RequiredMargin: required,
		MarginLevel:    level,
		Risk:           core.ClassifyMarginLevel(level),
		PerPositionPnL: exp.PerPosition,
	}
}

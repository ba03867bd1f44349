// Package margin implements the FX margin engine: position
// aggregation, margin-level evaluation, range scanning, and the
// analytical critical-rate solver.
package margin

import (
	"margin_monitor/internal/core"

	"github.com/shopspring/decimal"
)

// Exposure aggregates a position list at one rate.
type Exposure struct {
	TotalPnL    decimal.Decimal
	TotalUnits  decimal.Decimal
	PerPosition []core.PositionPnL
}

// Aggregate converts positions into unrealized P&L and notional unit
// exposure at the given rate. Long P&L is (rate-entry)*units, short is
// (entry-rate)*units. Position order is preserved in the per-position
// output; an empty list yields zeros.
func Aggregate(positions []core.Position, rate decimal.Decimal) Exposure {
	exp := Exposure{PerPosition: make([]core.PositionPnL, 0, len(positions))}

	for _, p := range positions {
		units := p.Units()

		var pnl decimal.Decimal
		if p.Side == core.SideLong {
			pnl = rate.Sub(p.EntryPrice).Mul(units)
		} else {
			pnl = p.EntryPrice.Sub(rate).Mul(units)
		}

		exp.TotalPnL = exp.TotalPnL.Add(pnl)
		exp.TotalUnits = exp.TotalUnits.Add(units)
		exp.PerPosition = append(exp.PerPosition, core.PositionPnL{
			ID:    p.ID,
			Side:  p.Side,
			Units: units,
			PnL:   pnl,
		})
	}

	return exp
}

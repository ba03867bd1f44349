package margin

import (
	"testing"

	"margin_monitor/internal/core"

	"github.com/shopspring/decimal"
)

func TestAggregate_LongShort(t *testing.T) {
	positions := []core.Position{
		{ID: "l1", Side: core.SideLong, Lots: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(150)},
		{ID: "s1", Side: core.SideShort, Lots: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(152)},
	}

	exp := Aggregate(positions, decimal.NewFromInt(151))

	// Long: (151-150)*20000 = 20000. Short: (152-151)*10000 = 10000.
	if exp.TotalPnL.String() != "30000" {
		t.Fatalf("expected total PnL 30000, got %s", exp.TotalPnL)
	}
	if exp.TotalUnits.String() != "30000" {
		t.Fatalf("expected total units 30000, got %s", exp.TotalUnits)
	}

	if len(exp.PerPosition) != 2 {
		t.Fatalf("expected 2 per-position entries, got %d", len(exp.PerPosition))
	}
	// Book order must be preserved for reporting.
	if exp.PerPosition[0].ID != "l1" || exp.PerPosition[1].ID != "s1" {
		t.Fatalf("per-position order not preserved: %s, %s", exp.PerPosition[0].ID, exp.PerPosition[1].ID)
	}
	if exp.PerPosition[0].PnL.String() != "20000" {
		t.Fatalf("expected long PnL 20000, got %s", exp.PerPosition[0].PnL)
	}
	if exp.PerPosition[1].PnL.String() != "10000" {
		t.Fatalf("expected short PnL 10000, got %s", exp.PerPosition[1].PnL)
	}
}

func TestAggregate_Empty(t *testing.T) {
	exp := Aggregate(nil, decimal.NewFromInt(150))

	if !exp.TotalPnL.IsZero() {
		t.Fatalf("expected zero PnL for empty list, got %s", exp.TotalPnL)
	}
	if !exp.TotalUnits.IsZero() {
		t.Fatalf("expected zero units for empty list, got %s", exp.TotalUnits)
	}
	if len(exp.PerPosition) != 0 {
		t.Fatalf("expected no per-position entries, got %d", len(exp.PerPosition))
	}
}

func TestAggregate_FractionalLots(t *testing.T) {
	positions := []core.Position{
		{ID: "l1", Side: core.SideLong, Lots: decimal.NewFromFloat(0.5), EntryPrice: decimal.NewFromFloat(149.50)},
	}

	exp := Aggregate(positions, decimal.NewFromFloat(150.25))

	// 0.5 lots -> 5000 units, (150.25-149.50)*5000 = 3750
	if exp.PerPosition[0].Units.String() != "5000" {
		t.Fatalf("expected 5000 units, got %s", exp.PerPosition[0].Units)
	}
	if exp.TotalPnL.String() != "3750" {
		t.Fatalf("expected PnL 3750, got %s", exp.TotalPnL)
	}
}

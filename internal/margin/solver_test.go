package margin

import (
	"testing"

	"margin_monitor/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveCriticalRate_ReferenceScenario(t *testing.T) {
	// E=15,000,000, B=1,000,000, U=100,000, T=100, L=25
	// denom = 100,000*(1-100/2500) = 96,000
	// rate  = 14,000,000/96,000 = 145.8333...
	book := testBook(1_000_000, 25, core.Position{
		ID:         "usdjpy-1",
		Side:       core.SideLong,
		Lots:       decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(150),
	})

	res := SolveCriticalRate(book, decimal.NewFromInt(100))
	require.True(t, res.Solved())

	rate, _ := res.Rate.Float64()
	assert.InDelta(t, 145.8333, rate, 0.0001)
}

func TestSolveCriticalRate_RoundTripLong(t *testing.T) {
	book := testBook(1_000_000, 25, core.Position{
		ID:         "l1",
		Side:       core.SideLong,
		Lots:       decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(150),
	})

	for _, target := range []int64{50, 100, 200} {
		res := SolveCriticalRate(book, decimal.NewFromInt(target))
		require.True(t, res.Solved(), "target %d", target)

		snap := Evaluate(book, res.Rate)
		level, _ := snap.MarginLevel.Float64()
		assert.InDelta(t, float64(target), level, 1e-9,
			"margin level at solved rate must equal the target %d", target)
	}
}

func TestSolveCriticalRate_RoundTripShort(t *testing.T) {
	// All-short: rate = (B+E)/(U*(1+T/(100*L)))
	// = 16,000,000/(100,000*1.04) = 153.8461...
	book := testBook(1_000_000, 25, core.Position{
		ID:         "s1",
		Side:       core.SideShort,
		Lots:       decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(150),
	})

	res := SolveCriticalRate(book, decimal.NewFromInt(100))
	require.True(t, res.Solved())

	rate, _ := res.Rate.Float64()
	assert.InDelta(t, 153.8462, rate, 0.0001)

	snap := Evaluate(book, res.Rate)
	level, _ := snap.MarginLevel.Float64()
	assert.InDelta(t, 100.0, level, 1e-9)
}

func TestSolveCriticalRate_MixedBook(t *testing.T) {
	book := testBook(1_000_000, 25,
		core.Position{ID: "l1", Side: core.SideLong, Lots: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(150)},
		core.Position{ID: "s1", Side: core.SideShort, Lots: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(150)},
	)

	for _, target := range []int64{50, 100, 500} {
		res := SolveCriticalRate(book, decimal.NewFromInt(target))
		assert.Equal(t, StatusMixedBook, res.Status, "target %d", target)
		assert.False(t, res.Solved())
	}
}

func TestSolveCriticalRate_EmptyBook(t *testing.T) {
	book := testBook(1_000_000, 25)

	res := SolveCriticalRate(book, decimal.NewFromInt(100))
	assert.Equal(t, StatusEmptyBook, res.Status)
}

func TestSolveCriticalRate_Degenerate(t *testing.T) {
	// With T = 100*L the long denominator U*(1-T/(100*L)) collapses to
	// zero: the margin-level curve is flat and has no unique crossing.
	book := testBook(1_000_000, 25, core.Position{
		ID:         "l1",
		Side:       core.SideLong,
		Lots:       decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(150),
	})

	res := SolveCriticalRate(book, decimal.NewFromInt(2500))
	assert.Equal(t, StatusDegenerate, res.Status)
}

func TestSolveCriticalRate_UnclampedNegativeRate(t *testing.T) {
	// A balance far above the entry notional makes the long formula go
	// negative. The solver reports the raw value; bounds are the
	// caller's concern.
	book := testBook(100_000_000, 25, core.Position{
		ID:         "l1",
		Side:       core.SideLong,
		Lots:       decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(150),
	})

	res := SolveCriticalRate(book, decimal.NewFromInt(100))
	require.True(t, res.Solved())
	assert.True(t, res.Rate.IsNegative())
}

package loan

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduction_OnePercentOfYearEndBalance(t *testing.T) {
	l := Loan{
		Principal:         decimal.NewFromInt(30_000_000),
		AnnualRatePercent: decimal.NewFromFloat(1.0),
		Years:             35,
		Method:            MethodFixedPayment,
	}
	schedule, err := l.Schedule()
	require.NoError(t, err)

	plan := DeductionPlan{
		CreditRatePercent: decimal.NewFromInt(1),
		Years:             10,
		AnnualCap:         decimal.NewFromInt(400_000),
	}
	years := plan.Apply(schedule)
	require.Len(t, years, 10)

	for i, y := range years {
		assert.Equal(t, i+1, y.Year)
		assert.Equal(t, schedule[(i+1)*12-1].Balance.String(), y.YearEndBalance.String())
		if !y.Capped {
			expected := y.YearEndBalance.Div(decimal.NewFromInt(100)).Round(0)
			assert.Equal(t, expected.String(), y.Credit.String(), "year %d", y.Year)
		}
		assert.True(t, y.Credit.LessThanOrEqual(plan.AnnualCap), "year %d", y.Year)
	}

	// Year-end balances shrink, so credits must be non-increasing once
	// below the cap.
	for i := 1; i < len(years); i++ {
		assert.True(t, years[i].Credit.LessThanOrEqual(years[i-1].Credit), "year %d", years[i].Year)
	}
}

func TestDeduction_CapBinds(t *testing.T) {
	l := Loan{
		Principal:         decimal.NewFromInt(50_000_000),
		AnnualRatePercent: decimal.NewFromFloat(1.0),
		Years:             35,
		Method:            MethodFixedPayment,
	}
	schedule, err := l.Schedule()
	require.NoError(t, err)

	plan := DeductionPlan{
		CreditRatePercent: decimal.NewFromInt(1),
		Years:             10,
		AnnualCap:         decimal.NewFromInt(400_000),
	}
	years := plan.Apply(schedule)
	require.NotEmpty(t, years)

	// 1% of the first year-end balance (~48.9M) far exceeds the cap.
	assert.True(t, years[0].Capped)
	assert.Equal(t, "400000", years[0].Credit.String())
}

func TestDeduction_StopsWhenLoanEnds(t *testing.T) {
	l := Loan{
		Principal:         decimal.NewFromInt(6_000_000),
		AnnualRatePercent: decimal.NewFromFloat(1.0),
		Years:             5,
		Method:            MethodFixedPayment,
	}
	schedule, err := l.Schedule()
	require.NoError(t, err)

	plan := DeductionPlan{
		CreditRatePercent: decimal.NewFromInt(1),
		Years:             10,
		AnnualCap:         decimal.NewFromInt(400_000),
	}
	years := plan.Apply(schedule)

	// The loan is repaid after five years; year five ends at zero
	// balance, so only four credit years remain.
	assert.Len(t, years, 4)
	assert.True(t, TotalCredit(years).IsPositive())
}

func TestDeduction_EmptyInputs(t *testing.T) {
	assert.Nil(t, DeductionPlan{Years: 10}.Apply(nil))
	assert.Nil(t, DeductionPlan{Years: 0}.Apply([]Installment{{Month: 1}}))
}

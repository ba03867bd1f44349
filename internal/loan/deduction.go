package loan

import (
	"github.com/shopspring/decimal"
)

// DeductionPlan describes a mortgage tax deduction: a percentage of
// the year-end loan balance is credited each year, up to an annual
// cap, for a fixed number of years.
type DeductionPlan struct {
	CreditRatePercent decimal.Decimal
	Years             int
	AnnualCap         decimal.Decimal
}

// DeductionYear is one year of the estimated credit.
type DeductionYear struct {
	Year           int             `json:"year"`
	YearEndBalance decimal.Decimal `json:"yearEndBalance"`
	Credit         decimal.Decimal `json:"credit"`
	Capped         bool            `json:"capped"`
}

// Apply estimates the deduction over an amortization schedule. The
// credit stops once the plan years run out or the loan is repaid.
func (p DeductionPlan) Apply(schedule []Installment) []DeductionYear {
	if p.Years <= 0 || len(schedule) == 0 {
		return nil
	}

	var out []DeductionYear
	for year := 1; year <= p.Years; year++ {
		idx := year*12 - 1
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}
		balance := schedule[idx].Balance
		if !balance.IsPositive() {
			break
		}

		credit := balance.Mul(p.CreditRatePercent).Div(hundredPercent).Round(0)
		capped := false
		if p.AnnualCap.IsPositive() && credit.GreaterThan(p.AnnualCap) {
			credit = p.AnnualCap
			capped = true
		}

		out = append(out, DeductionYear{
			Year:           year,
			YearEndBalance: balance,
			Credit:         credit,
			Capped:         capped,
		})
	}

	return out
}

// TotalCredit sums the yearly credits.
func TotalCredit(years []DeductionYear) decimal.Decimal {
	total := decimal.Zero
	for _, y := range years {
		total = total.Add(y.Credit)
	}
	return total
}

var hundredPercent = decimal.NewFromInt(100)

// Package loan implements the loan amortization calculator and the
// mortgage tax deduction estimate.
package loan

import (
	"fmt"
	"strings"

	apperrors "margin_monitor/pkg/errors"

	"github.com/shopspring/decimal"
)

// Method selects the repayment scheme.
type Method int

const (
	// MethodFixedPayment keeps the monthly payment constant (annuity).
	MethodFixedPayment Method = iota
	// MethodFixedPrincipal keeps the principal portion constant, so
	// payments start high and decline.
	MethodFixedPrincipal
)

func (m Method) String() string {
	switch m {
	case MethodFixedPayment:
		return "fixed_payment"
	case MethodFixedPrincipal:
		return "fixed_principal"
	default:
		return "unknown"
	}
}

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed_payment", "annuity":
		return MethodFixedPayment, nil
	case "fixed_principal":
		return MethodFixedPrincipal, nil
	default:
		return MethodFixedPayment, fmt.Errorf("invalid repayment method: %q", s)
	}
}

// Loan describes the borrowing terms.
type Loan struct {
	Principal         decimal.Decimal
	AnnualRatePercent decimal.Decimal
	Years             int
	Method            Method
}

// Installment is one month of the repayment schedule. Balance is the
// remaining principal after the payment.
type Installment struct {
	Month     int             `json:"month"`
	Payment   decimal.Decimal `json:"payment"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
}

// Validate checks the loan terms.
func (l Loan) Validate() error {
	if !l.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive, got %s", apperrors.ErrInvalidLoan, l.Principal)
	}
	if l.AnnualRatePercent.IsNegative() {
		return fmt.Errorf("%w: annual rate must not be negative, got %s", apperrors.ErrInvalidLoan, l.AnnualRatePercent)
	}
	if l.Years <= 0 {
		return fmt.Errorf("%w: term must be at least one year, got %d", apperrors.ErrInvalidLoan, l.Years)
	}
	return nil
}

// MonthlyRate is the periodic interest rate as a fraction.
func (l Loan) MonthlyRate() decimal.Decimal {
	return l.AnnualRatePercent.Div(decimal.NewFromInt(1200))
}

// Schedule produces the full month-by-month repayment schedule. The
// final installment absorbs rounding residue so the balance lands on
// exactly zero and the principal portions sum to the loan principal.
func (l Loan) Schedule() ([]Installment, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	months := l.Years * 12
	rate := l.MonthlyRate()
	balance := l.Principal

	var fixedPayment, fixedPrincipal decimal.Decimal
	switch l.Method {
	case MethodFixedPrincipal:
		fixedPrincipal = l.Principal.Div(decimal.NewFromInt(int64(months))).Round(2)
	default:
		fixedPayment = annuityPayment(l.Principal, rate, months)
	}

	schedule := make([]Installment, 0, months)
	for m := 1; m <= months; m++ {
		interest := balance.Mul(rate).Round(2)

		var principal decimal.Decimal
		switch l.Method {
		case MethodFixedPrincipal:
			principal = fixedPrincipal
		default:
			principal = fixedPayment.Sub(interest)
		}

		// Final month: repay whatever is left.
		if m == months || principal.GreaterThan(balance) {
			principal = balance
		}

		balance = balance.Sub(principal)
		schedule = append(schedule, Installment{
			Month:     m,
			Payment:   principal.Add(interest),
			Principal: principal,
			Interest:  interest,
			Balance:   balance,
		})

		if balance.IsZero() && m < months {
			break
		}
	}

	return schedule, nil
}

// annuityPayment computes the constant monthly payment
// P*r*(1+r)^n / ((1+r)^n - 1), or P/n when the rate is zero.
func annuityPayment(principal, rate decimal.Decimal, months int) decimal.Decimal {
	n := decimal.NewFromInt(int64(months))
	if rate.IsZero() {
		return principal.Div(n).Round(2)
	}

	growth := decimal.NewFromInt(1).Add(rate).Pow(n)
	payment := principal.Mul(rate).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1)))
	return payment.Round(2)
}

// TotalInterest sums the interest portions of a schedule.
func TotalInterest(schedule []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, ins := range schedule {
		total = total.Add(ins.Interest)
	}
	return total
}

// TotalPayment sums the payments of a schedule.
func TotalPayment(schedule []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, ins := range schedule {
		total = total.Add(ins.Payment)
	}
	return total
}

// Package render formats evaluation results as text tables for the
// CLI binaries.
package render

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"margin_monitor/internal/core"
	"margin_monitor/internal/loan"
	"margin_monitor/internal/margin"
)

// Snapshot renders a single evaluation as a small key/value block.
func Snapshot(snap *core.MarginSnapshot) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Rate:\t%s\n", snap.Rate.String())
	fmt.Fprintf(w, "Unrealized P&L:\t%s\n", snap.TotalPnL.StringFixed(2))
	fmt.Fprintf(w, "Equity:\t%s\n", snap.Equity.StringFixed(2))
	fmt.Fprintf(w, "Required margin:\t%s\n", snap.RequiredMargin.StringFixed(2))
	fmt.Fprintf(w, "Margin level:\t%s%%\n", snap.MarginLevel.StringFixed(2))
	fmt.Fprintf(w, "Risk:\t%s\n", snap.Risk.String())
	w.Flush()

	return b.String()
}

// ScanTable renders a range scan as an aligned table, one row per rate.
func ScanTable(snapshots []core.MarginSnapshot) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(w, "RATE\tP&L\tEQUITY\tREQUIRED\tLEVEL%\tRISK\t")
	for _, snap := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			snap.Rate.String(),
			snap.TotalPnL.StringFixed(0),
			snap.Equity.StringFixed(0),
			snap.RequiredMargin.StringFixed(0),
			snap.MarginLevel.StringFixed(2),
			snap.Risk.String(),
		)
	}
	w.Flush()

	return b.String()
}

// CriticalRate renders a solver outcome as one line.
func CriticalRate(target string, result margin.SolveResult) string {
	switch result.Status {
	case margin.StatusSolved:
		return fmt.Sprintf("Margin level %s%% is reached at rate %s\n", target, result.Rate.StringFixed(4))
	case margin.StatusMixedBook:
		return fmt.Sprintf("Margin level %s%%: book mixes long and short positions, no closed-form rate\n", target)
	case margin.StatusDegenerate:
		return fmt.Sprintf("Margin level %s%%: margin curve is flat at this target, no unique rate\n", target)
	default:
		return fmt.Sprintf("Margin level %s%%: book is empty\n", target)
	}
}

// AmortizationTable renders a loan schedule.
func AmortizationTable(schedule []loan.Installment) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(w, "MONTH\tPAYMENT\tPRINCIPAL\tINTEREST\tBALANCE\t")
	for _, inst := range schedule {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t\n",
			inst.Month,
			inst.Payment.StringFixed(0),
			inst.Principal.StringFixed(0),
			inst.Interest.StringFixed(0),
			inst.Balance.StringFixed(0),
		)
	}
	w.Flush()

	fmt.Fprintf(&b, "\nTotal payment: %s  Total interest: %s\n",
		loan.TotalPayment(schedule).StringFixed(0),
		loan.TotalInterest(schedule).StringFixed(0))

	return b.String()
}

// DeductionTable renders the mortgage tax credit per year.
func DeductionTable(years []loan.DeductionYear) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(w, "YEAR\tYEAR-END BALANCE\tCREDIT\t\t")
	for _, y := range years {
		capped := ""
		if y.Capped {
			capped = "(capped)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n",
			y.Year,
			y.YearEndBalance.StringFixed(0),
			y.Credit.StringFixed(0),
			capped,
		)
	}
	w.Flush()

	fmt.Fprintf(&b, "\nTotal credit: %s\n", loan.TotalCredit(years).StringFixed(0))

	return b.String()
}

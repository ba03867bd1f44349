package margin

import (
	"fmt"

	"margin_monitor/internal/core"
	apperrors "margin_monitor/pkg/errors"

	"github.com/shopspring/decimal"
)

// ScanRange evaluates the book across an inclusive rate grid from
// minRate to maxRate in increments of step, classifying each snapshot.
// Output is rate-ascending with length floor((max-min)/step)+1.
// Recomputation per point is intentional; each evaluation is
// O(positions) and memoization would buy nothing here.
func ScanRange(book *core.Book, minRate, maxRate, step decimal.Decimal) ([]core.MarginSnapshot, error) {
	if !step.IsPositive() {
		return nil, fmt.Errorf("%w: step must be positive, got %s", apperrors.ErrInvalidRange, step)
	}
	if minRate.GreaterThan(maxRate) {
		return nil, fmt.Errorf("%w: min rate %s exceeds max rate %s", apperrors.ErrInvalidRange, minRate, maxRate)
	}

	var snaps []core.MarginSnapshot
	// Decimal stepping is exact, so the grid never drifts or skips the
	// endpoint the way float accumulation would.
	for rate := minRate; rate.LessThanOrEqual(maxRate); rate = rate.Add(step) {
		snaps = append(snaps, Evaluate(book, rate))
	}

	return snaps, nil
}

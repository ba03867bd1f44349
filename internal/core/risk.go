package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies a margin level into risk buckets.
type RiskLevel int

const (
	// RiskStopOut means the margin level is at or below the forced
	// liquidation threshold (50%).
	RiskStopOut RiskLevel = iota
	// RiskMarginCall means the margin level is at or below 100%.
	RiskMarginCall
	// RiskCaution means the margin level is at or below 200%.
	RiskCaution
	// RiskSafe means the margin level is above 200%.
	RiskSafe
)

// Classification thresholds, in margin-level percent.
var (
	StopOutThreshold    = decimal.NewFromInt(50)
	MarginCallThreshold = decimal.NewFromInt(100)
	CautionThreshold    = decimal.NewFromInt(200)
)

func (r RiskLevel) String() string {
	switch r {
	case RiskStopOut:
		return "STOP_OUT"
	case RiskMarginCall:
		return "MARGIN_CALL"
	case RiskCaution:
		return "CAUTION"
	case RiskSafe:
		return "SAFE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText makes risk levels serialize by name.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	switch string(b) {
	case "STOP_OUT":
		*r = RiskStopOut
	case "MARGIN_CALL":
		*r = RiskMarginCall
	case "CAUTION":
		*r = RiskCaution
	case "SAFE":
		*r = RiskSafe
	default:
		return fmt.Errorf("invalid risk level: %q", string(b))
	}
	return nil
}

// Severity orders risk levels: higher means worse.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskStopOut:
		return 3
	case RiskMarginCall:
		return 2
	case RiskCaution:
		return 1
	default:
		return 0
	}
}

// ClassifyMarginLevel maps a margin level (percent) onto a RiskLevel.
// Pure threshold mapping; an empty book evaluates to margin level zero
// and therefore lands in the stop-out bucket.
func ClassifyMarginLevel(level decimal.Decimal) RiskLevel {
	switch {
	case level.LessThanOrEqual(StopOutThreshold):
		return RiskStopOut
	case level.LessThanOrEqual(MarginCallThreshold):
		return RiskMarginCall
	case level.LessThanOrEqual(CautionThreshold):
		return RiskCaution
	default:
		return RiskSafe
	}
}

package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifyMarginLevel(t *testing.T) {
	cases := []struct {
		level float64
		want  RiskLevel
	}{
		{-10, RiskStopOut},
		{0, RiskStopOut},
		{50, RiskStopOut},
		{50.01, RiskMarginCall},
		{100, RiskMarginCall},
		{100.01, RiskCaution},
		{200, RiskCaution},
		{200.01, RiskSafe},
		{1000, RiskSafe},
	}

	for _, c := range cases {
		got := ClassifyMarginLevel(decimal.NewFromFloat(c.level))
		if got != c.want {
			t.Errorf("level %.2f: expected %s, got %s", c.level, c.want, got)
		}
	}
}

func TestRiskLevel_Severity(t *testing.T) {
	if RiskStopOut.Severity() <= RiskMarginCall.Severity() {
		t.Fatal("stop-out must be more severe than margin call")
	}
	if RiskMarginCall.Severity() <= RiskCaution.Severity() {
		t.Fatal("margin call must be more severe than caution")
	}
	if RiskCaution.Severity() <= RiskSafe.Severity() {
		t.Fatal("caution must be more severe than safe")
	}
}

// Package core defines the domain model shared by the margin and loan engines
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LotUnitSize is the broker-fixed number of currency units per lot.
const LotUnitSize = 10000

// Side is the direction of a position. It is a closed two-variant type;
// parsing happens once at the configuration boundary.
type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// ParseSide converts a configuration string into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return SideLong, fmt.Errorf("invalid position side: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so sides serialize as
// "long"/"short" in JSON payloads.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Position is a single leveraged FX position. Immutable once loaded.
type Position struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	Lots       decimal.Decimal `json:"lots"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Comment    string          `json:"comment,omitempty"`
}

// Units returns the currency-unit exposure of the position (lots * lot unit size).
func (p Position) Units() decimal.Decimal {
	return p.Lots.Mul(decimal.NewFromInt(LotUnitSize))
}

// Validate checks the position invariants.
func (p Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position id must not be empty")
	}
	if !p.Lots.IsPositive() {
		return fmt.Errorf("position %s: lots must be positive, got %s", p.ID, p.Lots)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("position %s: entry price must be positive, got %s", p.ID, p.EntryPrice)
	}
	return nil
}

// Account holds the balance and the broker-fixed leverage multiplier.
type Account struct {
	Balance  decimal.Decimal `json:"balance"`
	Leverage decimal.Decimal `json:"leverage"`
}

// Book is the unit over which every evaluation operates: an ordered set
// of positions plus the account state. The caller owns a Book and must
// not mutate it while an evaluation is reading it.
type Book struct {
	Positions []Position `json:"positions"`
	Account   Account    `json:"account"`
}

// Validate enforces the book invariants: positive lots everywhere,
// positive leverage, unique position IDs.
func (b Book) Validate() error {
	if !b.Account.Leverage.IsPositive() {
		return fmt.Errorf("leverage must be positive, got %s", b.Account.Leverage)
	}
	seen := make(map[string]struct{}, len(b.Positions))
	for _, p := range b.Positions {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate position id: %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// UniformSide reports whether every position in the book shares one
// side, and which one. An empty book is reported as uniform with ok=false.
func (b Book) UniformSide() (side Side, uniform bool, ok bool) {
	if len(b.Positions) == 0 {
		return SideLong, true, false
	}
	side = b.Positions[0].Side
	for _, p := range b.Positions[1:] {
		if p.Side != side {
			return side, false, true
		}
	}
	return side, true, true
}

// PositionPnL is the per-position slice of a snapshot, in book order.
type PositionPnL struct {
	ID    string          `json:"id"`
	Side  Side            `json:"side"`
	Units decimal.Decimal `json:"units"`
	PnL   decimal.Decimal `json:"pnl"`
}

// MarginSnapshot is the immutable result of evaluating a Book at one rate.
type MarginSnapshot struct {
	Rate           decimal.Decimal `json:"rate"`
	TotalPnL       decimal.Decimal `json:"totalPnL"`
	Equity         decimal.Decimal `json:"equity"`
	RequiredMargin decimal.Decimal `json:"requiredMargin"`
	MarginLevel    decimal.Decimal `json:"marginLevel"`
	Risk           RiskLevel       `json:"risk"`
	PerPositionPnL []PositionPnL   `json:"perPositionPnL"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`
}

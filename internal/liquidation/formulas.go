// Package liquidation recomputes position solvency on every mark-price
// update and executes bounded partial liquidations when risk limits
// are breached.
//
// The core feedback loop: unrealized PnL adjusts effective leverage,
// effective leverage feeds the margin ratio, and the margin ratio is
// checked against the coverage-derived trigger. Each update cycle is a
// pure function over the position — no incremental mutation, so a
// failed call leaves no partial state.
//
// All monetary values use shopspring/decimal — never float64 for money.
package liquidation

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/fixedpoint"
	"github.com/atmx/risk-engine/internal/model"
)

var (
	// ErrInvalidEntryPrice is returned for a non-positive entry price.
	ErrInvalidEntryPrice = errors.New("liquidation: entry price must be positive")

	// ErrInvalidLeverage is returned for a non-positive base leverage.
	ErrInvalidLeverage = errors.New("liquidation: base leverage must be positive")
)

var (
	// adjustmentFloor keeps the PnL adjustment factor at or above 10% of
	// nominal. A position up 150% would otherwise carry negative
	// effective leverage and its margin ratio loses meaning.
	adjustmentFloor = decimal.NewFromFloat(0.1)

	// maxEffectiveLeverage is the hard ceiling after all adjustments.
	maxEffectiveLeverage = decimal.NewFromInt(500)

	one = decimal.NewFromInt(1)
)

// UnrealizedPnLPct returns signed unrealized PnL as a fraction of
// entry:
//
//	pnl_pct = (mark − entry) / entry × direction_sign
func UnrealizedPnLPct(entry, mark decimal.Decimal, dir model.Direction) (decimal.Decimal, error) {
	if entry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidEntryPrice
	}
	return mark.Sub(entry).DivRound(entry, 8).Mul(dir.Sign()), nil
}

// EffectiveLeverage adjusts base leverage by unrealized PnL:
//
//	effective = base × (1 − pnl_pct)
//
// A profitable position de-levers (its margin grew), a losing one
// levers up. The adjustment factor floors at 10% of nominal and the
// result caps at 500×. The chain multiplier applies after the PnL
// adjustment, never before.
func EffectiveLeverage(baseLeverage int64, pnlPct, chainMultiplier decimal.Decimal) (decimal.Decimal, error) {
	if baseLeverage <= 0 {
		return decimal.Zero, ErrInvalidLeverage
	}

	adj := one.Sub(pnlPct)
	if adj.LessThan(adjustmentFloor) {
		adj = adjustmentFloor
	}

	eff := decimal.NewFromInt(baseLeverage).Mul(adj)
	if chainMultiplier.GreaterThan(decimal.Zero) {
		eff = eff.Mul(chainMultiplier)
	}
	if eff.GreaterThan(maxEffectiveLeverage) {
		eff = maxEffectiveLeverage
	}
	return eff.Round(8), nil
}

// crowding returns f(n) = 1 + 0.1×(n−1): each additional concurrent
// open position inflates the volatility term of the margin ratio.
func crowding(openCount int) decimal.Decimal {
	if openCount < 1 {
		openCount = 1
	}
	return one.Add(decimal.NewFromFloat(0.1).Mul(decimal.NewFromInt(int64(openCount - 1))))
}

// MarginRatio computes the maintenance requirement:
//
//	MR = 1/effective + sigma × sqrt(effective) × f(n)
func MarginRatio(effective, sigma decimal.Decimal, openCount int) (decimal.Decimal, error) {
	if effective.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidLeverage
	}

	base := one.DivRound(effective, 8)

	sqrtEff, err := fixedpoint.Sqrt(effective)
	if err != nil {
		return decimal.Zero, err
	}
	volTerm := sigma.Mul(sqrtEff).Mul(crowding(openCount))

	return base.Add(volTerm).Round(8), nil
}

// ShouldLiquidate reports whether the observed margin ratio breaches
// the coverage-derived trigger: MR < 1/coverage. With an unconstrained
// coverage sentinel the trigger is effectively zero and nothing
// liquidates.
func ShouldLiquidate(marginRatio, coverage decimal.Decimal) bool {
	if coverage.LessThanOrEqual(decimal.Zero) {
		// Insolvent vault: everything under water liquidates.
		return true
	}
	return marginRatio.LessThan(one.DivRound(coverage, 8))
}

// LiquidationPrice returns the mark price at which the position is
// liquidated:
//
//	long:  entry × (1 − MR/effective)
//	short: entry × (1 + MR/effective)
func LiquidationPrice(entry, marginRatio, effective decimal.Decimal, dir model.Direction) (decimal.Decimal, error) {
	if entry.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidEntryPrice
	}
	if effective.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidLeverage
	}

	offset := marginRatio.DivRound(effective, 8)
	if dir == model.DirectionShort {
		return entry.Mul(one.Add(offset)).Round(8), nil
	}
	return entry.Mul(one.Sub(offset)).Round(8), nil
}

package liquidation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/fixedpoint"
)

var (
	// capMinFraction and capMaxFraction bound the per-period liquidation
	// cap as a share of open interest. The volatility-scaled value in
	// between lets turbulent markets deleverage faster.
	capMinFraction = decimal.NewFromFloat(0.005)
	capMaxFraction = decimal.NewFromFloat(0.05)

	// sigmaCapScale maps realized volatility to the cap fraction.
	sigmaCapScale = decimal.NewFromInt(2)
)

// PeriodCap returns the notional liquidatable this period:
//
//	clamp(2σ, 0.5%, 5%) × open_interest
func PeriodCap(sigma, openInterest decimal.Decimal) decimal.Decimal {
	fraction := fixedpoint.Clamp(sigmaCapScale.Mul(sigma), capMinFraction, capMaxFraction)
	return fraction.Mul(openInterest).Round(8)
}

// PeriodAccumulator tracks cumulative liquidated notional for one
// market within one discrete period. Scoped per market, single writer
// per update cycle; reset at the period boundary.
type PeriodAccumulator struct {
	period      time.Duration
	periodStart time.Time
	liquidated  decimal.Decimal
}

// NewPeriodAccumulator starts an empty accumulator whose first period
// begins at start.
func NewPeriodAccumulator(period time.Duration, start time.Time) *PeriodAccumulator {
	return &PeriodAccumulator{period: period, periodStart: start}
}

// roll resets the accumulator if now has crossed the period boundary.
// Boundaries stay on the original start grid however long the market
// sits idle: the start jumps by whole periods, not to now.
func (a *PeriodAccumulator) roll(now time.Time) {
	if a.period <= 0 {
		return
	}
	elapsed := now.Sub(a.periodStart)
	if elapsed < a.period {
		return
	}
	steps := elapsed / a.period
	a.periodStart = a.periodStart.Add(steps * a.period)
	a.liquidated = decimal.Zero
}

// Remaining returns the unused headroom under cap for the period
// containing now.
func (a *PeriodAccumulator) Remaining(cap decimal.Decimal, now time.Time) decimal.Decimal {
	a.roll(now)
	return fixedpoint.SaturatingSub(cap, a.liquidated)
}

// Commit records liquidated notional against the current period.
func (a *PeriodAccumulator) Commit(amount decimal.Decimal, now time.Time) {
	a.roll(now)
	a.liquidated = a.liquidated.Add(amount)
}

// Liquidated returns the notional consumed in the period containing
// now.
func (a *PeriodAccumulator) Liquidated(now time.Time) decimal.Decimal {
	a.roll(now)
	return a.liquidated
}

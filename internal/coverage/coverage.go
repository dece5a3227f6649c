// Package coverage computes a market's solvency ratio and gates new
// leveraged exposure on it.
//
// Coverage is the vault balance measured against half the open
// interest. The tail-loss factor adjusts for correlated outcomes: a
// market whose positions are concentrated in correlated outcomes can
// lose more of its open interest at once than an uncorrelated one.
//
// State is one explicit per-market object passed into every call —
// never a process-wide singleton — so the engine can sequence
// recomputation and position evaluation without hidden sharing.
package coverage

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrBelowThreshold halts new leveraged trades. Liquidations are never
// gated on coverage; they are what restores it.
var ErrBelowThreshold = errors.New("coverage: ratio below minimum, new leveraged trades halted")

var (
	// Unconstrained is the sentinel ratio reported while open interest
	// is zero: with nothing at risk, coverage places no bound.
	Unconstrained = decimal.NewFromInt(1_000_000)

	// MinRatio is the absolute floor under which new leveraged trades
	// are rejected.
	MinRatio = decimal.NewFromFloat(0.5)

	// DropHaltFraction is the single-cycle relative drop that triggers
	// a halt regardless of the absolute level. A vault can be "healthy"
	// at 2.0 and still be bleeding out if it was 3.0 one cycle ago.
	DropHaltFraction = decimal.NewFromFloat(0.20)
)

// windowSize bounds the retained ratio history.
const windowSize = 8

// half is the open-interest discount in the ratio denominator: not all
// open interest can lose simultaneously in a two-sided market.
var half = decimal.NewFromFloat(0.5)

// Ratio computes vault / (0.5 × open interest). Zero open interest
// yields the Unconstrained sentinel.
func Ratio(vaultBalance, openInterest decimal.Decimal) decimal.Decimal {
	if openInterest.LessThanOrEqual(decimal.Zero) {
		return Unconstrained
	}
	return vaultBalance.DivRound(half.Mul(openInterest), 8)
}

// PairExposure is one pairwise correlation weighted by how much of the
// market's open interest the pair represents.
type PairExposure struct {
	Weight      decimal.Decimal
	Correlation decimal.Decimal
}

// CorrelationFactor aggregates pairwise exposures into a single factor
// bounded to [0,1]. Weights are concentration shares; they need not
// sum to 1 — the factor is the weighted mean correlation.
func CorrelationFactor(pairs []PairExposure) decimal.Decimal {
	if len(pairs) == 0 {
		return decimal.Zero
	}

	var weighted, total decimal.Decimal
	for _, p := range pairs {
		if p.Weight.LessThanOrEqual(decimal.Zero) {
			continue
		}
		weighted = weighted.Add(p.Weight.Mul(p.Correlation))
		total = total.Add(p.Weight)
	}
	if total.IsZero() {
		return decimal.Zero
	}

	factor := weighted.DivRound(total, 8)
	if factor.IsNegative() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if factor.GreaterThan(one) {
		return one
	}
	return factor
}

// TailLoss returns the fraction of open interest at risk in a single
// adverse outcome:
//
//	tail_loss = 1 − (1/N) × (1 − corr)
//
// With N independent outcomes only 1/N of the book is exposed to any
// one of them; full correlation (corr=1) exposes everything.
func TailLoss(outcomeCount int, corrFactor decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if outcomeCount < 1 {
		return one
	}
	perOutcome := one.DivRound(decimal.NewFromInt(int64(outcomeCount)), 8)
	return one.Sub(perOutcome.Mul(one.Sub(corrFactor))).Round(8)
}

// State is the per-market coverage context: the latest ratio, a short
// rolling history, and the halt latch. Single writer per update cycle.
type State struct {
	ratios []decimal.Decimal // newest last
	halted bool
}

// NewState returns an empty coverage context.
func NewState() *State {
	return &State{ratios: make([]decimal.Decimal, 0, windowSize)}
}

// Record commits the ratio for the current update cycle and returns
// whether the market is halted afterward. A relative drop greater
// than DropHaltFraction from the previous cycle latches the halt even
// when the absolute level is still above MinRatio.
func (s *State) Record(ratio decimal.Decimal) bool {
	if n := len(s.ratios); n > 0 {
		prev := s.ratios[n-1]
		if prev.GreaterThan(decimal.Zero) {
			drop := prev.Sub(ratio).DivRound(prev, 8)
			if drop.GreaterThan(DropHaltFraction) {
				s.halted = true
			}
		}
	}

	if len(s.ratios) == windowSize {
		copy(s.ratios, s.ratios[1:])
		s.ratios = s.ratios[:windowSize-1]
	}
	s.ratios = append(s.ratios, ratio)

	if ratio.LessThan(MinRatio) {
		s.halted = true
	}
	return s.halted
}

// Current returns the most recently recorded ratio, or Unconstrained
// when nothing has been recorded yet.
func (s *State) Current() decimal.Decimal {
	if len(s.ratios) == 0 {
		return Unconstrained
	}
	return s.ratios[len(s.ratios)-1]
}

// Halted reports whether the halt latch is set.
func (s *State) Halted() bool {
	return s.halted
}

// ClearHalt releases the latch. Called after the operator confirms the
// vault is recapitalized; never cleared automatically.
func (s *State) ClearHalt() {
	s.halted = false
}

// History returns the retained ratio window, oldest first.
func (s *State) History() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.ratios))
	copy(out, s.ratios)
	return out
}

// AllowLeveragedTrade gates new leveraged exposure on the latest
// committed coverage. Liquidations bypass this check entirely.
func (s *State) AllowLeveragedTrade() error {
	if s.halted || s.Current().LessThan(MinRatio) {
		return ErrBelowThreshold
	}
	return nil
}

// Package pmamm implements a multi-outcome constant-product market
// maker for markets with 2–64 discrete outcomes.
//
// The pool holds one reserve per outcome and maintains the invariant
//
//	Π r_j = k
//
// A buy of Δ shares of outcome i mints complete sets: the trader pays
// cost c, every reserve grows by c, and outcome i's reserve shrinks by
// the Δ shares paid out. The cost has no closed form for N > 2, so it
// is recovered by Newton-Raphson on the log-domain invariant residual.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The solver works in float64 internally, with results immediately
// converted to decimal.
package pmamm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrOutcomeCount is returned when the pool size is outside [2, 64].
	ErrOutcomeCount = errors.New("pmamm: outcome count must be between 2 and 64")

	// ErrInvalidReserve is returned when any reserve is non-positive.
	ErrInvalidReserve = errors.New("pmamm: reserves must be positive")

	// ErrOutcomeIndex is returned for an outcome index out of range.
	ErrOutcomeIndex = errors.New("pmamm: outcome index out of range")

	// ErrInvalidDelta is returned when the share delta is non-positive.
	ErrInvalidDelta = errors.New("pmamm: share delta must be positive")

	// ErrPricingDivergence is returned when the solver fails to converge
	// within the iteration ceiling. The trade must be rejected; the pool
	// is never left mid-solve.
	ErrPricingDivergence = errors.New("pmamm: newton-raphson failed to converge")
)

const (
	// MinOutcomes and MaxOutcomes bound the pool size. Larger outcome
	// spaces route to the density-based pricer instead.
	MinOutcomes = 2
	MaxOutcomes = 64

	// damping scales each Newton step. Full steps overshoot near the
	// domain boundary where the log residual is steep.
	damping = 0.8

	// convergenceTol is the residual magnitude treated as converged.
	convergenceTol = 1e-6

	// maxIterations is the hard ceiling; exceeding it is a fatal
	// divergence, never a "best effort" answer.
	maxIterations = 10

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// Pool is a constant-product pool over N discrete outcomes. It is
// immutable: trades produce a new pool via ApplyBuy rather than
// mutating in place, so a rejected trade can never corrupt reserves.
type Pool struct {
	reserves []decimal.Decimal
}

// NewPool validates the reserve vector and returns a pool.
func NewPool(reserves []decimal.Decimal) (*Pool, error) {
	if len(reserves) < MinOutcomes || len(reserves) > MaxOutcomes {
		return nil, ErrOutcomeCount
	}
	for _, r := range reserves {
		if r.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidReserve
		}
	}
	rs := make([]decimal.Decimal, len(reserves))
	copy(rs, reserves)
	return &Pool{reserves: rs}, nil
}

// Outcomes returns the number of outcomes in the pool.
func (p *Pool) Outcomes() int {
	return len(p.reserves)
}

// Reserve returns the reserve backing outcome i.
func (p *Pool) Reserve(i int) (decimal.Decimal, error) {
	if i < 0 || i >= len(p.reserves) {
		return decimal.Zero, ErrOutcomeIndex
	}
	return p.reserves[i], nil
}

// Reserves returns a copy of the full reserve vector.
func (p *Pool) Reserves() []decimal.Decimal {
	out := make([]decimal.Decimal, len(p.reserves))
	copy(out, p.reserves)
	return out
}

// SpotPrice returns the instantaneous probability of outcome i:
//
//	p_i = (1/r_i) / Σ_j (1/r_j)
//
// Scarcer reserves mean the market has absorbed more demand for that
// outcome, so its price is higher. Prices across outcomes sum to 1.
func (p *Pool) SpotPrice(i int) (decimal.Decimal, error) {
	if i < 0 || i >= len(p.reserves) {
		return decimal.Zero, ErrOutcomeIndex
	}
	return decimal.NewFromFloat(p.spotPriceFloat(i)).Round(PriceScale), nil
}

// SpotPrices returns the full price vector.
func (p *Pool) SpotPrices() []decimal.Decimal {
	out := make([]decimal.Decimal, len(p.reserves))
	for i := range p.reserves {
		out[i] = decimal.NewFromFloat(p.spotPriceFloat(i)).Round(PriceScale)
	}
	return out
}

func (p *Pool) spotPriceFloat(i int) float64 {
	var sumInv float64
	for _, r := range p.reserves {
		sumInv += 1 / r.InexactFloat64()
	}
	return (1 / p.reserves[i].InexactFloat64()) / sumInv
}

// SolveResult carries the solved cost and the iteration count, which
// feeds the solver-iterations histogram.
type SolveResult struct {
	Cost       decimal.Decimal
	Iterations int
}

// CostToBuy solves for the collateral cost c of buying delta shares of
// outcome i. The invariant after the trade, in log domain:
//
//	g(c) = ln((r_i + c − Δ)/r_i) + Σ_{j≠i} ln((r_j + c)/r_j) = 0
//	g'(c) = 1/(r_i + c − Δ) + Σ_{j≠i} 1/(r_j + c)
//
// Newton iteration with damped steps, seeded at Δ × spot price (the
// linear approximation, which lands within a few iterations of the
// root for any realistic trade size). Non-convergence within the
// ceiling returns ErrPricingDivergence.
func (p *Pool) CostToBuy(i int, delta decimal.Decimal) (SolveResult, error) {
	if i < 0 || i >= len(p.reserves) {
		return SolveResult{}, ErrOutcomeIndex
	}
	if delta.LessThanOrEqual(decimal.Zero) {
		return SolveResult{}, ErrInvalidDelta
	}

	rs := make([]float64, len(p.reserves))
	for j, r := range p.reserves {
		rs[j] = r.InexactFloat64()
	}
	df := delta.InexactFloat64()

	// g is increasing in c and negative at the domain's lower edge, so
	// the root is unique; the floor keeps iterates inside the domain.
	floor := math.Max(0, df-rs[i]) + 1e-12

	c := df * p.spotPriceFloat(i)
	if c <= floor {
		c = floor + df*1e-6
	}

	// Iterations counts Newton steps actually taken; a seed that already
	// satisfies the tolerance reports zero.
	for iter := 0; iter <= maxIterations; iter++ {
		g, gPrime := residual(rs, i, df, c)

		if math.Abs(g) < convergenceTol {
			return SolveResult{
				Cost:       decimal.NewFromFloat(c).Round(PriceScale),
				Iterations: iter,
			}, nil
		}
		if iter == maxIterations {
			break
		}

		next := c - damping*g/gPrime
		if next <= floor {
			// Bisect toward the floor instead of jumping past it.
			next = (c + floor) / 2
		}
		c = next
	}

	return SolveResult{Iterations: maxIterations}, ErrPricingDivergence
}

// ApplyBuy returns the pool state after a solved buy: every reserve
// grows by the cost, and outcome i's reserve shrinks by the shares
// paid out. The receiver is unchanged.
func (p *Pool) ApplyBuy(i int, delta, cost decimal.Decimal) (*Pool, error) {
	if i < 0 || i >= len(p.reserves) {
		return nil, ErrOutcomeIndex
	}
	next := make([]decimal.Decimal, len(p.reserves))
	for j, r := range p.reserves {
		next[j] = r.Add(cost)
	}
	next[i] = next[i].Sub(delta)
	if next[i].LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidReserve
	}
	return &Pool{reserves: next}, nil
}

// FillPrice returns the average execution price per share: cost/delta.
func FillPrice(cost, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return decimal.Zero
	}
	return cost.Div(delta).Round(PriceScale)
}

func residual(rs []float64, i int, delta, c float64) (g, gPrime float64) {
	for j, r := range rs {
		if j == i {
			v := r + c - delta
			g += math.Log(v / r)
			gPrime += 1 / v
			continue
		}
		v := r + c
		g += math.Log(v / r)
		gPrime += 1 / v
	}
	return g, gPrime
}

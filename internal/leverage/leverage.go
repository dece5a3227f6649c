// Package leverage resolves the maximum leverage a position may take.
//
// Three independent bounds apply, and the tightest wins:
//
//   - a hierarchy-depth bonus: deeper chain legs earn more headroom,
//     100 × (1 + 0.1 × depth)
//   - a Kelly-style solvency bound: coverage × 100 / √N
//   - a hard per-outcome-count tier cap
//
// The result is floored to a whole leverage multiple.
package leverage

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/fixedpoint"
)

var (
	// ErrOutcomeCount is returned for a non-positive outcome count.
	ErrOutcomeCount = errors.New("leverage: invalid outcome count")

	// ErrNegativeDepth is returned for a negative hierarchy depth.
	ErrNegativeDepth = errors.New("leverage: hierarchy depth must be non-negative")
)

// TierCap returns the hard leverage ceiling for an outcome count. The
// steps reflect how fast a wide market can move against a position: a
// single binary pair prices continuously, while a 64-outcome market
// can reprice violently when mass shifts between outcomes.
func TierCap(outcomeCount int) int64 {
	switch {
	case outcomeCount <= 1:
		return 100
	case outcomeCount == 2:
		return 70
	case outcomeCount <= 4:
		return 25
	case outcomeCount <= 8:
		return 15
	case outcomeCount <= 16:
		return 12
	case outcomeCount <= 64:
		return 10
	default:
		return 5
	}
}

// MaxLeverage resolves the leverage ceiling for a position:
//
//	min(100 × (1 + 0.1 × depth), coverage × 100 / √N, tier_cap(N))
//
// floored to an integer. Negative coverage resolves to zero: no new
// leverage against an insolvent vault.
func MaxLeverage(depth int, coverage decimal.Decimal, outcomeCount int) (int64, error) {
	if outcomeCount < 1 {
		return 0, ErrOutcomeCount
	}
	if depth < 0 {
		return 0, ErrNegativeDepth
	}
	if coverage.IsNegative() {
		return 0, nil
	}

	hundred := decimal.NewFromInt(100)

	depthBound := hundred.Mul(
		decimal.NewFromInt(1).Add(decimal.NewFromFloat(0.1).Mul(decimal.NewFromInt(int64(depth)))))

	sqrtN, err := fixedpoint.Sqrt(decimal.NewFromInt(int64(outcomeCount)))
	if err != nil {
		return 0, err
	}
	kellyBound := coverage.Mul(hundred).DivRound(sqrtN, 8)

	bound := depthBound
	if kellyBound.LessThan(bound) {
		bound = kellyBound
	}
	if tier := decimal.NewFromInt(TierCap(outcomeCount)); tier.LessThan(bound) {
		bound = tier
	}

	return bound.Floor().IntPart(), nil
}

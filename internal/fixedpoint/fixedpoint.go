// Package fixedpoint provides checked and saturating arithmetic over
// shopspring/decimal, plus bounded-iteration square roots.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Overflow is never silently approximated: checked operations abort with
// ErrArithmeticOverflow and callers must not commit partial state.
package fixedpoint

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrArithmeticOverflow is returned when a checked operation exceeds
	// the representable magnitude. Fatal: the caller must abort without
	// mutating state.
	ErrArithmeticOverflow = errors.New("fixedpoint: arithmetic overflow")

	// ErrDivisionByZero is returned when a checked division has a zero
	// divisor.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrNegativeSqrt is returned when a square root of a negative value
	// is requested.
	ErrNegativeSqrt = errors.New("fixedpoint: square root of negative value")
)

// maxMagnitude bounds every checked result. Large enough for any realistic
// vault or open-interest figure, small enough to catch runaway multiplies.
var maxMagnitude = decimal.New(1, 30) // 1e30

// sqrtEpsilon is the convergence threshold for decimal Newton iteration.
var sqrtEpsilon = decimal.New(1, -12) // 1e-12

// maxSqrtIterations bounds the Newton loop; convergence is quadratic so
// this is never reached for in-range inputs.
const maxSqrtIterations = 64

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	return checkMagnitude(a.Add(b))
}

// CheckedSub returns a-b or ErrArithmeticOverflow.
func CheckedSub(a, b decimal.Decimal) (decimal.Decimal, error) {
	return checkMagnitude(a.Sub(b))
}

// CheckedMul returns a*b or ErrArithmeticOverflow.
func CheckedMul(a, b decimal.Decimal) (decimal.Decimal, error) {
	return checkMagnitude(a.Mul(b))
}

// CheckedDiv returns a/b, ErrDivisionByZero, or ErrArithmeticOverflow.
func CheckedDiv(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return checkMagnitude(a.Div(b))
}

// SaturatingSub returns a-b floored at zero. Used where a negative result
// has no meaning (remaining notional, accumulator headroom).
func SaturatingSub(a, b decimal.Decimal) decimal.Decimal {
	r := a.Sub(b)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Isqrt computes the integer square root of n (floor of sqrt) using the
// Babylonian method. The loop is strictly decreasing, so it terminates in
// O(log n) steps with no approximation.
func Isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// Sqrt computes the square root of d via bounded Newton iteration in
// decimal arithmetic. Converges quadratically; the iteration cap exists
// to bound per-call cost, not to mask divergence.
func Sqrt(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeSqrt
	}
	if d.IsZero() {
		return decimal.Zero, nil
	}

	two := decimal.NewFromInt(2)

	// Seed from the integer square root of the integer part, which puts
	// the iteration within a few steps of the answer.
	seed := decimal.NewFromInt(int64(Isqrt(uint64(d.IntPart())) + 1))
	x := seed

	for i := 0; i < maxSqrtIterations; i++ {
		// x' = (x + d/x) / 2
		next := x.Add(d.DivRound(x, 24)).DivRound(two, 24)
		if next.Sub(x).Abs().LessThan(sqrtEpsilon) {
			return next, nil
		}
		x = next
	}
	return x, nil
}

func checkMagnitude(v decimal.Decimal) (decimal.Decimal, error) {
	if v.Abs().GreaterThan(maxMagnitude) {
		return decimal.Zero, ErrArithmeticOverflow
	}
	return v, nil
}

package lmsr

import "math"

// Exponential lookup table for the pricing hot path. Repeated
// transcendental evaluation is avoided by precomputing e^x on a fixed
// grid once at startup and interpolating linearly between grid points.
//
// The table covers x in [tableMin, 0]; after max-subtraction every
// exponent the pricer evaluates is non-positive, so this range is
// sufficient. With step 1/128 the linear-interpolation error is below
// 4e-5, and truncating below tableMin contributes at most
// e^tableMin ≈ 3.4e-4 — both within the 1e-3 accuracy bound.
const (
	tableMin  = -8.0
	tableStep = 1.0 / 128.0
)

var expTable [int(-tableMin/tableStep) + 1]float64

func init() {
	for i := range expTable {
		expTable[i] = math.Exp(tableMin + float64(i)*tableStep)
	}
}

// expNeg returns e^x for x <= 0 via table lookup with linear
// interpolation. Inputs below tableMin round to zero; inputs above 0
// clamp to 1.
func expNeg(x float64) float64 {
	if x >= 0 {
		return 1
	}
	if x < tableMin {
		return 0
	}

	pos := (x - tableMin) / tableStep
	i := int(pos)
	if i >= len(expTable)-1 {
		return expTable[len(expTable)-1]
	}
	frac := pos - float64(i)
	return expTable[i] + frac*(expTable[i+1]-expTable[i])
}

// logSumExp computes ln(Σ e^x_i) using the log-sum-exp trick: subtract
// the maximum so every exponent is non-positive and fits the table.
// Without the max-subtraction, e^x overflows float64 when x > ~709.
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += expNeg(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

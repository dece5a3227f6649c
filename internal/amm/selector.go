// Package amm selects the automated market maker variant for a market
// from its outcome structure.
//
// Three pricing engines exist: LMSR for a single binary outcome pair,
// PM-AMM (constant product) for 2–64 discrete outcomes, and L2 for
// continuous or very wide outcome spaces. The variant is a closed enum
// resolved exactly once at market creation; the resolved value always
// wins over any caller-requested value, and the stores reject any
// later update that would change it with ErrAlreadySet.
package amm

import "errors"

var (
	// ErrInvalidOutcomeCount is returned when the outcome count is zero
	// or negative.
	ErrInvalidOutcomeCount = errors.New("amm: invalid outcome count")

	// ErrAlreadySet is returned by stores on any market update that
	// would change a variant already resolved at creation.
	ErrAlreadySet = errors.New("amm: variant already set for market")
)

// Variant identifies one of the three pricing engines.
type Variant uint8

const (
	// VariantUnset is the zero value; no variant has been resolved yet.
	VariantUnset Variant = iota

	// VariantLMSR prices a single binary outcome pair with the
	// logarithmic market scoring rule.
	VariantLMSR

	// VariantPMAMM prices 2–64 discrete outcomes with a constant-product
	// invariant solved by Newton-Raphson.
	VariantPMAMM

	// VariantL2 prices continuous outcome spaces (or >64 outcomes) over
	// a fitted probability density.
	VariantL2
)

// String returns the variant name used in logs and storage.
func (v Variant) String() string {
	switch v {
	case VariantLMSR:
		return "LMSR"
	case VariantPMAMM:
		return "PM-AMM"
	case VariantL2:
		return "L2"
	default:
		return "UNSET"
	}
}

// ParseVariant maps a stored variant name back to its enum value.
func ParseVariant(s string) Variant {
	switch s {
	case "LMSR":
		return VariantLMSR
	case "PM-AMM":
		return VariantPMAMM
	case "L2":
		return VariantL2
	default:
		return VariantUnset
	}
}

// Resolve maps an outcome structure to its pricing engine:
//
//	N = 1                     → LMSR  (one binary yes/no pair)
//	2 ≤ N ≤ 64, discrete      → PM-AMM
//	continuous, or N > 64     → L2
func Resolve(outcomeCount int, continuous bool) (Variant, error) {
	if outcomeCount < 1 {
		return VariantUnset, ErrInvalidOutcomeCount
	}
	if continuous {
		return VariantL2, nil
	}
	switch {
	case outcomeCount == 1:
		return VariantLMSR, nil
	case outcomeCount <= 64:
		return VariantPMAMM, nil
	default:
		return VariantL2, nil
	}
}

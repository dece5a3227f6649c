// Package chain orders the unwinding of multi-leg linked positions
// and rejects cyclic dependency graphs before any leg closes.
//
// Legs live in an arena indexed by integer id; the cycle check is an
// iterative three-color depth-first traversal, so stack depth stays
// bounded no matter how deep a chain nests.
package chain

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

var (
	// ErrCyclicDependency rejects the whole chain atomically: a chain
	// with a cycle has no valid unwind order, so nothing closes.
	ErrCyclicDependency = errors.New("chain: cyclic leg dependency")

	// ErrLegIndex is returned when a dependency references a leg
	// outside the chain.
	ErrLegIndex = errors.New("chain: dependency references unknown leg")

	// ErrEmptyChain is returned for a chain with no legs.
	ErrEmptyChain = errors.New("chain: no legs to unwind")
)

// Traversal colors. White legs are untouched, gray legs are on the
// current DFS path, black legs are fully explored. A gray-to-gray edge
// is a back-edge — a cycle.
const (
	white = iota
	gray
	black
)

// rolePriority orders the unwind: borrow legs settle first (they
// accrue interest and pin collateral), leveraged positions second,
// stakes are released last.
func rolePriority(r model.ChainRole) int {
	switch r {
	case model.RoleBorrow:
		return 0
	case model.RoleLeveraged:
		return 1
	default: // RoleStake
		return 2
	}
}

// VerifyAcyclic runs the three-color check over the chain's leg
// dependency graph. It must pass before any leg closes.
func VerifyAcyclic(legs []model.ChainLeg) error {
	if len(legs) == 0 {
		return ErrEmptyChain
	}

	for _, leg := range legs {
		for _, dep := range leg.DependsOn {
			if dep < 0 || dep >= len(legs) {
				return ErrLegIndex
			}
		}
	}

	colors := make([]int, len(legs))

	// frame tracks one arena index plus how many of its dependencies
	// have been explored, replacing the recursion stack.
	type frame struct {
		idx  int
		next int
	}

	for start := range legs {
		if colors[start] != white {
			continue
		}

		stack := []frame{{idx: start}}
		colors[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := legs[top.idx].DependsOn

			if top.next >= len(deps) {
				colors[top.idx] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := deps[top.next]
			top.next++

			switch colors[dep] {
			case gray:
				return ErrCyclicDependency
			case white:
				colors[dep] = gray
				stack = append(stack, frame{idx: dep})
			}
		}
	}
	return nil
}

// UnwindOrder returns the arena indices of the chain's legs in
// closure order: borrow → leveraged → stake, preserving the relative
// order of same-role legs. The cycle check runs first; a rejected
// chain produces no order at all.
func UnwindOrder(legs []model.ChainLeg) ([]int, error) {
	if err := VerifyAcyclic(legs); err != nil {
		return nil, err
	}

	order := make([]int, 0, len(legs))
	for priority := 0; priority <= 2; priority++ {
		for i, leg := range legs {
			if rolePriority(leg.Role) == priority {
				order = append(order, i)
			}
		}
	}
	return order, nil
}

// stepMultiplier is the per-leg risk compounding applied to every
// position in a chain beyond its first leg.
var stepMultiplier = decimal.NewFromFloat(0.1)

// Multiplier returns the effective-leverage multiplier carried by every
// position in the chain: 1 + 0.1 per dependent leg beyond the first.
// Each extra leg links the position's solvency to collateral that is
// itself at risk, so its effective leverage compounds after the PnL
// adjustment. A single-leg chain multiplies by 1.
func Multiplier(legs []model.ChainLeg) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if len(legs) <= 1 {
		return one
	}
	steps := decimal.NewFromInt(int64(len(legs) - 1))
	return one.Add(stepMultiplier.Mul(steps))
}

// LegResult is the closure outcome for one leg.
type LegResult struct {
	LegIndex   int    `json:"leg_index"`
	PositionID string `json:"position_id"`
	Role       string `json:"role"`
	Closed     bool   `json:"closed"`
}

// Unwind resolves the order and applies close to every leg in turn.
// The close callback handles the position-level bookkeeping; a close
// failure aborts the remaining legs and surfaces the partial results
// so the caller can resume.
func Unwind(c model.Chain, close func(leg model.ChainLeg) error) ([]LegResult, error) {
	order, err := UnwindOrder(c.Legs)
	if err != nil {
		return nil, err
	}

	results := make([]LegResult, 0, len(order))
	for _, idx := range order {
		leg := c.Legs[idx]
		if err := close(leg); err != nil {
			return results, err
		}
		results = append(results, LegResult{
			LegIndex:   idx,
			PositionID: leg.PositionID,
			Role:       string(leg.Role),
			Closed:     true,
		})
	}
	return results, nil
}

package liquidation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

// ErrPositionClosed is returned when evaluating or liquidating a
// position whose notional already reached zero.
var ErrPositionClosed = errors.New("liquidation: position is closed")

// KeeperIncentiveBps is the fixed share of liquidated notional paid to
// the permissionless caller, in basis points. Paid unconditionally on
// every successful liquidation, never on a no-op.
const KeeperIncentiveBps = 5

var bpsDivisor = decimal.NewFromInt(10_000)

// Snapshot is the risk context for one update cycle, recomputed before
// any position is evaluated and never carried across cycles.
type Snapshot struct {
	MarkPrice       decimal.Decimal
	Sigma           decimal.Decimal
	Coverage        decimal.Decimal
	ChainMultiplier decimal.Decimal // zero when the position is unchained
}

// Evaluate recomputes the position's derived risk fields against the
// cycle snapshot and advances the state machine:
//
//	Healthy → AtRisk → PartiallyLiquidated → (Healthy | Closed)
//
// The input position is not mutated; the updated copy is returned with
// an at-risk flag. Closed positions are rejected.
func Evaluate(pos model.Position, snap Snapshot) (model.Position, bool, error) {
	if pos.State == model.StateClosed {
		return pos, false, ErrPositionClosed
	}

	pnlPct, err := UnrealizedPnLPct(pos.EntryPrice, snap.MarkPrice, pos.Direction)
	if err != nil {
		return pos, false, err
	}

	eff, err := EffectiveLeverage(pos.BaseLeverage, pnlPct, snap.ChainMultiplier)
	if err != nil {
		return pos, false, err
	}

	mr, err := MarginRatio(eff, snap.Sigma, pos.OpenCount)
	if err != nil {
		return pos, false, err
	}

	liqPrice, err := LiquidationPrice(pos.EntryPrice, mr, eff, pos.Direction)
	if err != nil {
		return pos, false, err
	}

	pos.MarkPrice = snap.MarkPrice
	pos.PnLPct = pnlPct
	pos.PnLAbs = pos.Notional.Mul(pnlPct).Round(8)
	pos.EffectiveLeverage = eff
	pos.MarginRatio = mr
	pos.LiquidationPrice = liqPrice

	atRisk := ShouldLiquidate(mr, snap.Coverage)
	switch {
	case atRisk && pos.State == model.StateHealthy:
		pos.State = model.StateAtRisk
	case !atRisk:
		// AtRisk and PartiallyLiquidated both recover to Healthy once
		// the margin ratio clears the trigger.
		pos.State = model.StateHealthy
	}
	pos.UpdatedAt = time.Now().UTC()

	return pos, atRisk, nil
}

// Result describes one liquidation call. A no-op (cap already consumed
// this period) reports zero liquidated notional and zero incentive —
// it is not an error.
type Result struct {
	Liquidated      decimal.Decimal `json:"liquidated"`
	KeeperIncentive decimal.Decimal `json:"keeper_incentive"`
	VaultProceeds   decimal.Decimal `json:"vault_proceeds"`
	Remaining       decimal.Decimal `json:"remaining"`
	NoOp            bool            `json:"no_op"`
}

// Execute performs one bounded partial liquidation slice against the
// position.
//
// The slice is the smallest of: the per-period cap headroom, the
// caller's max size (when positive), and the position's remaining
// notional. The keeper incentive is carved out of the liquidated
// proceeds; the rest accrues to the vault. State is committed only
// after every amount is computed — a no-op touches nothing.
func Execute(pos model.Position, acc *PeriodAccumulator, sigma, openInterest, maxSize decimal.Decimal, now time.Time) (Result, model.Position, error) {
	if pos.State == model.StateClosed {
		return Result{}, pos, ErrPositionClosed
	}

	cap := PeriodCap(sigma, openInterest)
	slice := acc.Remaining(cap, now)

	if maxSize.GreaterThan(decimal.Zero) && maxSize.LessThan(slice) {
		slice = maxSize
	}
	if pos.Notional.LessThan(slice) {
		slice = pos.Notional
	}

	if slice.LessThanOrEqual(decimal.Zero) {
		return Result{
			NoOp:      true,
			Remaining: pos.Notional,
		}, pos, nil
	}

	incentive := slice.Mul(decimal.NewFromInt(KeeperIncentiveBps)).DivRound(bpsDivisor, 8)

	remaining := pos.Notional.Sub(slice)

	// Margin is released pro rata with the liquidated notional.
	if pos.Notional.GreaterThan(decimal.Zero) {
		pos.Margin = pos.Margin.Mul(remaining.DivRound(pos.Notional, 8)).Round(8)
	}
	pos.Notional = remaining
	if remaining.IsZero() {
		pos.State = model.StateClosed
	} else {
		pos.State = model.StatePartiallyLiquidated
	}
	pos.UpdatedAt = now.UTC()

	acc.Commit(slice, now)

	return Result{
		Liquidated:      slice,
		KeeperIncentive: incentive,
		VaultProceeds:   slice.Sub(incentive),
		Remaining:       remaining,
	}, pos, nil
}
